package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContractStatus string

const (
	ContractActive ContractStatus = "active"
	ContractEnded  ContractStatus = "ended"
)

type BillingCycle string

const (
	CycleMonthly   BillingCycle = "monthly"
	CycleQuarterly BillingCycle = "quarterly"
	CycleYearly    BillingCycle = "yearly"
)

// DefaultMinimumTermMonths applies when a contract carries no minimum term.
const DefaultMinimumTermMonths = 12

type Contract struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	DojoID            uint            `gorm:"index;not null" json:"dojo_id"`
	MemberID          uint            `gorm:"index;not null" json:"member_id"`
	Member            Member          `json:"-"`
	Status            ContractStatus  `gorm:"size:20;not null;index" json:"status"`
	StartDate         time.Time       `gorm:"not null" json:"start_date"`
	EndDate           *time.Time      `json:"end_date"`
	MinimumTermMonths int             `gorm:"not null;default:12" json:"minimum_term_months"`
	MonthlyAmount     decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"monthly_amount"`
	BillingCycle      BillingCycle    `gorm:"size:20;not null;default:'monthly'" json:"billing_cycle"`
	TariffAmount      decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"tariff_amount"` // per billing cycle
	SignupFee         decimal.Decimal `gorm:"type:numeric(10,2);not null;default:0" json:"signup_fee"`
	PaymentMethod     PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	CancelledAt       *time.Time      `json:"cancelled_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Term returns the minimum term, falling back to DefaultMinimumTermMonths.
func (c Contract) Term() int {
	if c.MinimumTermMonths <= 0 {
		return DefaultMinimumTermMonths
	}
	return c.MinimumTermMonths
}
