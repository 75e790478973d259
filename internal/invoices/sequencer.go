// Package invoices allocates invoice numbers and keeps invoice status in line
// with the payments recorded against it.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const numberBase = 1000

// Sequencer is the only place invoice numbers come from. Invoices and fee
// invoices share one counter per calendar year.
type Sequencer struct {
	db  *gorm.DB
	log *zap.Logger
	mu  sync.Mutex
}

func NewSequencer(db *gorm.DB, log *zap.Logger) *Sequencer {
	return &Sequencer{db: db, log: log}
}

// NextNumber returns YYYY/MM/DD-NNNN for issueDate. A number handed out is
// never handed out again, even if the caller fails to use it.
func (s *Sequencer) NextNumber(ctx context.Context, issueDate time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issueDate = issueDate.UTC()
	year := issueDate.Year()

	for attempt := 0; attempt < 5; attempt++ {
		var offset int
		var lost bool

		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			counter, err := s.counter(tx, year)
			if err != nil {
				return err
			}
			res := tx.Model(&models.InvoiceCounter{}).
				Where("year = ? AND version = ?", year, counter.Version).
				Updates(map[string]any{
					"next":       gorm.Expr("next + 1"),
					"version":    gorm.Expr("version + 1"),
					"updated_at": time.Now().UTC(),
				})
			if res.Error != nil {
				return fmt.Errorf("advance invoice counter: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				lost = true
				return nil
			}
			offset = counter.Next
			return nil
		})
		if err != nil {
			return "", err
		}
		if lost {
			s.log.Debug("invoice counter version moved, retrying", zap.Int("year", year), zap.Int("attempt", attempt))
			continue
		}
		return Format(issueDate, offset), nil
	}
	return "", fmt.Errorf("invoice counter for %d kept moving: %w", year, apperr.ErrConflict)
}

// counter loads the year's row, seeding it from the rows already issued that year.
func (s *Sequencer) counter(tx *gorm.DB, year int) (models.InvoiceCounter, error) {
	var c models.InvoiceCounter
	err := tx.Where("year = ?", year).First(&c).Error
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return c, fmt.Errorf("load invoice counter: %w", err)
	}

	from := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)
	var invoices, fees int64
	if err := tx.Model(&models.Invoice{}).Where("issue_date >= ? AND issue_date < ?", from, to).Count(&invoices).Error; err != nil {
		return c, fmt.Errorf("count invoices: %w", err)
	}
	if err := tx.Model(&models.FeeInvoice{}).Where("issue_date >= ? AND issue_date < ?", from, to).Count(&fees).Error; err != nil {
		return c, fmt.Errorf("count fee invoices: %w", err)
	}

	seed := models.InvoiceCounter{Year: year, Next: int(invoices + fees), UpdatedAt: time.Now().UTC()}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return c, fmt.Errorf("seed invoice counter: %w", err)
	}
	s.log.Info("invoice counter seeded", zap.Int("year", year), zap.Int("offset", seed.Next))

	if err := tx.Where("year = ?", year).First(&c).Error; err != nil {
		return c, fmt.Errorf("reload invoice counter: %w", err)
	}
	return c, nil
}

func Format(issueDate time.Time, offset int) string {
	return fmt.Sprintf("%s-%04d", issueDate.Format("2006/01/02"), numberBase+offset)
}

// withNumber runs insert with a fresh number and retries once when the number
// is already taken.
func (s *Sequencer) withNumber(ctx context.Context, issueDate time.Time, insert func(number string) error) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		number, err := s.NextNumber(ctx, issueDate)
		if err != nil {
			return "", err
		}
		err = insert(number)
		if err == nil {
			return number, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return "", err
		}
		s.log.Warn("invoice number collision", zap.String("number", number), zap.Int("attempt", attempt))
		lastErr = err
	}
	return "", fmt.Errorf("allocate invoice number: %v: %w", lastErr, apperr.ErrConflict)
}
