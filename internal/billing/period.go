package billing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const PeriodLayout = "2006-01"

// Period is one calendar month of billing.
type Period struct {
	Key string // YYYY-MM
	Due time.Time
}

// MonthStart returns the first day of t's month at midnight UTC.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TermEnd is the last day covered by a contract: the earlier of its end date
// and start + termMonths - 1 day.
func TermEnd(start time.Time, end *time.Time, termMonths int) time.Time {
	last := DayStart(start).AddDate(0, termMonths, -1)
	if end != nil && DayStart(*end).Before(last) {
		last = DayStart(*end)
	}
	return last
}

// Periods lists one period per calendar month from the start month through
// the month containing last. The first period is due on the start date, the
// others on the first of their month.
func Periods(start, last time.Time) []Period {
	start = DayStart(start)
	if last.Before(start) {
		return nil
	}
	var out []Period
	for m := MonthStart(start); !m.After(last); m = m.AddDate(0, 1, 0) {
		due := m
		if len(out) == 0 {
			due = start
		}
		out = append(out, Period{Key: m.Format(PeriodLayout), Due: due})
	}
	return out
}

// ParsePeriod parses a YYYY-MM key into its month start.
func ParsePeriod(key string) (time.Time, error) {
	t, err := time.Parse(PeriodLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: %w", key, err)
	}
	return t.UTC(), nil
}

// ProrateFirstMonth scales amount by the days remaining in start's month,
// start day included.
func ProrateFirstMonth(amount decimal.Decimal, start time.Time) decimal.Decimal {
	start = DayStart(start)
	days := MonthStart(start).AddDate(0, 1, -1).Day()
	remaining := days - start.Day() + 1
	if remaining >= days {
		return amount
	}
	return amount.Mul(decimal.NewFromInt(int64(remaining))).Div(decimal.NewFromInt(int64(days))).Round(2)
}
