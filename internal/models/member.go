package models

import "time"

type PaymentMethod string

const (
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentDirectDebit  PaymentMethod = "direct_debit"
	PaymentCash         PaymentMethod = "cash"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentBankTransfer, PaymentDirectDebit, PaymentCash:
		return true
	}
	return false
}

// Member belongs to exactly one dojo. Banking details are only kept for direct debit.
type Member struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	DojoID        uint          `gorm:"index;not null" json:"dojo_id"`
	Dojo          Dojo          `json:"-"`
	FirstName     string        `gorm:"size:100;not null" json:"first_name"`
	LastName      string        `gorm:"size:100;not null" json:"last_name"`
	Email         string        `gorm:"size:150" json:"email"`
	PaymentMethod PaymentMethod `gorm:"size:20;not null" json:"payment_method"`
	IBAN          string        `gorm:"size:34" json:"iban"`
	BIC           string        `gorm:"size:11" json:"bic"`
	AccountHolder string        `gorm:"size:140" json:"account_holder"`

	// Live processor references (customer and stored payment method).
	ProcessorCustomerRef      string `gorm:"size:100" json:"processor_customer_ref"`
	ProcessorPaymentMethodRef string `gorm:"size:100" json:"processor_payment_method_ref"`

	ArchivedAt    *time.Time `gorm:"index" json:"archived_at"`
	ArchiveReason string     `gorm:"size:255" json:"archive_reason"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (m Member) FullName() string {
	return m.FirstName + " " + m.LastName
}
