package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePartiallyPaid InvoiceStatus = "partially_paid"
	InvoicePaid          InvoiceStatus = "paid"
)

type Invoice struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	DojoID    uint            `gorm:"index;not null" json:"dojo_id"`
	MemberID  uint            `gorm:"index;not null" json:"member_id"`
	Number    string          `gorm:"size:20;not null;uniqueIndex" json:"number"`
	IssueDate time.Time       `gorm:"index;not null" json:"issue_date"`
	Net       decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"net"`
	Tax       decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"tax"`
	Gross     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"gross"`
	Status    InvoiceStatus   `gorm:"size:20;not null" json:"status"`
	Lines     []InvoiceLine   `gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE" json:"lines"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type InvoiceLine struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	InvoiceID   uint            `gorm:"index;not null" json:"invoice_id"`
	Description string          `gorm:"size:255;not null" json:"description"`
	Quantity    decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"unit_price"`
	TaxRate     decimal.Decimal `gorm:"type:numeric(5,2);not null;default:0" json:"tax_rate"` // percent
	Net         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"net"`
	Tax         decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"tax"`
	Gross       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"gross"`
}

// FeeInvoice is the older membership-fee document. It shares the number
// sequence with Invoice.
type FeeInvoice struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	DojoID         uint            `gorm:"index;not null" json:"dojo_id"`
	MemberID       uint            `gorm:"index;not null" json:"member_id"`
	ContributionID *uint           `gorm:"index" json:"contribution_id"`
	Number         string          `gorm:"size:20;not null;uniqueIndex" json:"number"`
	IssueDate      time.Time       `gorm:"index;not null" json:"issue_date"`
	Amount         decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// InvoiceCounter holds the next number offset of a calendar year.
type InvoiceCounter struct {
	Year      int `gorm:"primaryKey;autoIncrement:false"`
	Next      int `gorm:"not null"`
	Version   int `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// Payment is money received against an invoice.
type Payment struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	DojoID           uint            `gorm:"index;not null" json:"dojo_id"`
	InvoiceID        uint            `gorm:"not null;uniqueIndex:ux_payment_invoice_contribution,priority:1" json:"invoice_id"`
	ContributionID   *uint           `gorm:"uniqueIndex:ux_payment_invoice_contribution,priority:2" json:"contribution_id"`
	CollectionItemID *uint           `gorm:"index" json:"collection_item_id"`
	Amount           decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	Method           PaymentMethod   `gorm:"size:20;not null" json:"method"`
	PaidAt           time.Time       `gorm:"not null" json:"paid_at"`
	CreatedAt        time.Time       `json:"created_at"`
}
