package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contribution (Beitrag) is one period's due membership fee.
// The unique index keeps at most one row per (member, contract, period).
type Contribution struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	DojoID        uint            `gorm:"index;not null" json:"dojo_id"`
	MemberID      uint            `gorm:"not null;uniqueIndex:ux_contribution_period,priority:1" json:"member_id"`
	ContractID    uint            `gorm:"not null;uniqueIndex:ux_contribution_period,priority:2" json:"contract_id"`
	Period        string          `gorm:"size:7;not null;uniqueIndex:ux_contribution_period,priority:3" json:"period"` // YYYY-MM
	Amount        decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	DueDate       time.Time       `gorm:"index;not null" json:"due_date"`
	Paid          bool            `gorm:"not null;default:false;index" json:"paid"`
	PaidAt        *time.Time      `json:"paid_at"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	InvoiceID     *uint           `gorm:"index" json:"invoice_id"`
	DunningStage  int             `gorm:"not null;default:0" json:"dunning_stage"`

	// Set while a live collection item holds this contribution.
	PendingItemID *uint `gorm:"index" json:"pending_item_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
