package collection

import (
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/billing"
)

// Window is the due date range of a batch, both days inclusive.
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// MonthWindow covers one whole period.
func MonthWindow(period string) (Window, error) {
	start, err := billing.ParsePeriod(period)
	if err != nil {
		return Window{}, apperr.Validation("period", "expected YYYY-MM")
	}
	return Window{From: start, To: start.AddDate(0, 1, -1)}, nil
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return apperr.Validation("window", "from and to are required")
	}
	if w.To.Before(w.From) {
		return apperr.Validation("window", "to is before from")
	}
	if w.To.Sub(w.From) > 366*24*time.Hour {
		return apperr.Validation("window", "longer than a year")
	}
	return nil
}

// SinglePeriod rejects windows reaching into a second month. Live runs are
// locked per period, so a window must not straddle two of them.
func (w Window) SinglePeriod() error {
	if !billing.MonthStart(w.From).Equal(billing.MonthStart(w.To)) {
		return apperr.Validation("window", "a live run covers one calendar month")
	}
	return nil
}

// Period is the billing period key the batch is filed under.
func (w Window) Period() string {
	return billing.MonthStart(w.From).Format(billing.PeriodLayout)
}

func (w Window) bounds() (time.Time, time.Time) {
	return billing.DayStart(w.From), billing.DayStart(w.To).AddDate(0, 0, 1)
}
