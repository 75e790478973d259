package models

import "time"

// Dojo is the tenant. Every tenant-scoped table carries a DojoID pointing here.
type Dojo struct {
	ID           uint   `gorm:"primaryKey"`
	Name         string `gorm:"size:100;not null;unique"`
	CreditorName string `gorm:"size:140"` // shown as creditor name in SEPA files
	Address      string `gorm:"size:255"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Users []User
}
