package models

import "time"

type UserRole string

const (
	RoleSuperAdmin UserRole = "super_admin"
	RoleDojoAdmin  UserRole = "dojo_admin"
	RoleStaff      UserRole = "staff"
)

// Privileged reports whether the role is bound to no dojo and may see all of them.
func (r UserRole) Privileged() bool {
	return r == RoleSuperAdmin
}

type User struct {
	ID           uint `gorm:"primaryKey"`
	DojoID       *uint
	Dojo         *Dojo
	Name         string   `gorm:"size:100;not null"`
	Email        string   `gorm:"size:100;uniqueIndex;not null"`
	PasswordHash string   `gorm:"size:255;not null"`
	Role         UserRole `gorm:"size:20;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
