package models

import "time"

// CreditorAccount is a dojo bank account that collects direct debits.
// An export run uses exactly one of them.
type CreditorAccount struct {
	ID          uint   `gorm:"primaryKey"`
	DojoID      uint   `gorm:"index;not null"`
	Dojo        Dojo
	Name        string `gorm:"size:100;not null"` // e.g. "Sparkasse Hauptkonto"
	CreditorID  string `gorm:"size:35;not null"`  // SEPA Gläubiger-ID
	IBAN        string `gorm:"size:34;not null"`
	BIC         string `gorm:"size:11"`
	Description string `gorm:"size:255"`
	IsActive    bool   `gorm:"default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
