// Package billing holds the pure calendar and money rules of membership billing.
package billing

import (
	"dojo-backend/internal/models"

	"github.com/shopspring/decimal"
)

var (
	three  = decimal.NewFromInt(3)
	twelve = decimal.NewFromInt(12)
)

// MonthlyAmount converts a tariff amount per billing cycle into the monthly
// figure, rounded to cents. Unknown cycles are treated as monthly.
func MonthlyAmount(amount decimal.Decimal, cycle models.BillingCycle) decimal.Decimal {
	switch cycle {
	case models.CycleQuarterly:
		return amount.Div(three).Round(2)
	case models.CycleYearly:
		return amount.Div(twelve).Round(2)
	default:
		return amount.Round(2)
	}
}

// Deviates reports whether the stored monthly amount disagrees with the tariff.
func Deviates(c models.Contract) bool {
	if c.TariffAmount.IsZero() {
		return false
	}
	return !MonthlyAmount(c.TariffAmount, c.BillingCycle).Equal(c.MonthlyAmount.Round(2))
}
