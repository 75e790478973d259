package invoices

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	audit audit.Recorder
	seq   *Sequencer
}

func NewService(db *gorm.DB, log *zap.Logger, rec audit.Recorder, seq *Sequencer) *Service {
	return &Service{db: db, log: log, audit: rec, seq: seq}
}

type LineInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"` // percent
}

type CreateInput struct {
	MemberID  uint        `json:"member_id"`
	IssueDate time.Time   `json:"issue_date"`
	Lines     []LineInput `json:"lines"`
}

func buildLines(in []LineInput) ([]models.InvoiceLine, decimal.Decimal, decimal.Decimal, error) {
	if len(in) == 0 {
		return nil, decimal.Zero, decimal.Zero, apperr.Validation("lines", "at least one line is required")
	}
	lines := make([]models.InvoiceLine, 0, len(in))
	net, tax := decimal.Zero, decimal.Zero
	for i, l := range in {
		if strings.TrimSpace(l.Description) == "" {
			return nil, net, tax, apperr.Validation(fmt.Sprintf("lines[%d].description", i), "required")
		}
		if !l.Quantity.IsPositive() {
			return nil, net, tax, apperr.Validation(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if l.UnitPrice.IsNegative() || l.TaxRate.IsNegative() || l.TaxRate.GreaterThan(hundred) {
			return nil, net, tax, apperr.Validation(fmt.Sprintf("lines[%d]", i), "price or tax rate out of range")
		}
		ln := l.Quantity.Mul(l.UnitPrice).Round(2)
		lt := ln.Mul(l.TaxRate).Div(hundred).Round(2)
		lines = append(lines, models.InvoiceLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxRate:     l.TaxRate,
			Net:         ln,
			Tax:         lt,
			Gross:       ln.Add(lt),
		})
		net = net.Add(ln)
		tax = tax.Add(lt)
	}
	return lines, net, tax, nil
}

// Create issues an invoice for a member of the scope.
func (s *Service) Create(ctx context.Context, scope tenant.Scope, in CreateInput, actor audit.Actor) (models.Invoice, error) {
	lines, net, tax, err := buildLines(in.Lines)
	if err != nil {
		return models.Invoice{}, err
	}
	var member models.Member
	if err := tenant.Find(ctx, s.db, s.log, scope, in.MemberID, &member); err != nil {
		return models.Invoice{}, err
	}
	issue := issueDay(in.IssueDate)

	inv := models.Invoice{
		DojoID:    member.DojoID,
		MemberID:  member.ID,
		IssueDate: issue,
		Net:       net,
		Tax:       tax,
		Gross:     net.Add(tax),
		Status:    models.InvoiceOpen,
	}
	_, err = s.seq.withNumber(ctx, issue, func(number string) error {
		inv.ID = 0
		inv.Number = number
		inv.Lines = cloneLines(lines)
		return s.db.WithContext(ctx).Create(&inv).Error
	})
	if err != nil {
		return models.Invoice{}, err
	}

	s.recordCreated(ctx, actor, inv)
	return inv, nil
}

// InvoiceContributions bundles contributions of one member into a single
// invoice. Contributions already invoiced are a conflict; already paid ones
// are booked as payments right away.
func (s *Service) InvoiceContributions(ctx context.Context, scope tenant.Scope, memberID uint, ids []uint, issueDate time.Time, actor audit.Actor) (models.Invoice, error) {
	if len(ids) == 0 {
		return models.Invoice{}, apperr.Validation("contribution_ids", "at least one contribution is required")
	}
	var member models.Member
	if err := tenant.Find(ctx, s.db, s.log, scope, memberID, &member); err != nil {
		return models.Invoice{}, err
	}

	var contribs []models.Contribution
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND member_id = ? AND dojo_id = ?", ids, member.ID, member.DojoID).
		Order("period ASC").
		Find(&contribs).Error; err != nil {
		return models.Invoice{}, fmt.Errorf("load contributions: %w", err)
	}
	if len(contribs) != len(dedupe(ids)) {
		return models.Invoice{}, apperr.ErrNotFound
	}

	in := make([]LineInput, 0, len(contribs))
	for _, c := range contribs {
		if c.InvoiceID != nil {
			return models.Invoice{}, fmt.Errorf("contribution %d already invoiced: %w", c.ID, apperr.ErrConflict)
		}
		in = append(in, LineInput{
			Description: "Mitgliedsbeitrag " + c.Period,
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   c.Amount,
		})
	}
	lines, net, tax, err := buildLines(in)
	if err != nil {
		return models.Invoice{}, err
	}
	issue := issueDay(issueDate)

	inv := models.Invoice{
		DojoID:    member.DojoID,
		MemberID:  member.ID,
		IssueDate: issue,
		Net:       net,
		Tax:       tax,
		Gross:     net.Add(tax),
		Status:    models.InvoiceOpen,
	}
	_, err = s.seq.withNumber(ctx, issue, func(number string) error {
		inv.ID = 0
		inv.Number = number
		inv.Lines = cloneLines(lines)
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Create(&inv).Error; err != nil {
				return err
			}
			res := tx.Model(&models.Contribution{}).
				Where("id IN ? AND invoice_id IS NULL", ids).
				Update("invoice_id", inv.ID)
			if res.Error != nil {
				return fmt.Errorf("link contributions: %w", res.Error)
			}
			if int(res.RowsAffected) != len(contribs) {
				return fmt.Errorf("contributions were invoiced concurrently: %w", apperr.ErrConflict)
			}
			for _, c := range contribs {
				if !c.Paid {
					continue
				}
				c.InvoiceID = &inv.ID
				at := time.Now().UTC()
				if c.PaidAt != nil {
					at = *c.PaidAt
				}
				if err := ApplyContributionPayment(tx, c, nil, c.PaymentMethod, at); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return models.Invoice{}, err
	}
	if err := s.db.WithContext(ctx).Select("status").First(&inv, inv.ID).Error; err != nil {
		s.log.Warn("reload invoice status", zap.Uint("invoice_id", inv.ID), zap.Error(err))
	}

	s.recordCreated(ctx, actor, inv)
	return inv, nil
}

// CreateFeeInvoice issues the membership-fee document for one contribution.
func (s *Service) CreateFeeInvoice(ctx context.Context, scope tenant.Scope, contributionID uint, issueDate time.Time, actor audit.Actor) (models.FeeInvoice, error) {
	var c models.Contribution
	if err := tenant.Find(ctx, s.db, s.log, scope, contributionID, &c); err != nil {
		return models.FeeInvoice{}, err
	}
	issue := issueDay(issueDate)

	fee := models.FeeInvoice{
		DojoID:         c.DojoID,
		MemberID:       c.MemberID,
		ContributionID: &c.ID,
		IssueDate:      issue,
		Amount:         c.Amount,
	}
	_, err := s.seq.withNumber(ctx, issue, func(number string) error {
		fee.ID = 0
		fee.Number = number
		return s.db.WithContext(ctx).Create(&fee).Error
	})
	if err != nil {
		return models.FeeInvoice{}, err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(fee.DojoID),
		Action:      models.AuditActionInvoiceAllocated,
		EntityType:  "fee_invoice",
		EntityID:    fee.ID,
		Description: fmt.Sprintf("fee invoice %s for contribution %d", fee.Number, c.ID),
		After:       fee,
	})
	return fee, nil
}

// SyncStatus recomputes the invoice status from its payments.
func (s *Service) SyncStatus(ctx context.Context, scope tenant.Scope, invoiceID uint) (models.InvoiceStatus, error) {
	var inv models.Invoice
	if err := tenant.Find(ctx, s.db, s.log, scope, invoiceID, &inv); err != nil {
		return "", err
	}
	var status models.InvoiceStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		status, err = syncStatus(tx, inv.ID)
		return err
	})
	return status, err
}

type PaymentInput struct {
	Amount decimal.Decimal      `json:"amount"`
	Method models.PaymentMethod `json:"method"`
	PaidAt time.Time            `json:"paid_at"`
}

// RecordPayment books money received outside of collection runs.
func (s *Service) RecordPayment(ctx context.Context, scope tenant.Scope, invoiceID uint, in PaymentInput, actor audit.Actor) (models.Payment, models.InvoiceStatus, error) {
	if !in.Amount.IsPositive() {
		return models.Payment{}, "", apperr.Validation("amount", "must be positive")
	}
	if !in.Method.Valid() {
		return models.Payment{}, "", apperr.Validation("method", "unknown payment method")
	}
	var inv models.Invoice
	if err := tenant.Find(ctx, s.db, s.log, scope, invoiceID, &inv); err != nil {
		return models.Payment{}, "", err
	}
	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}

	p := models.Payment{
		DojoID:    inv.DojoID,
		InvoiceID: inv.ID,
		Amount:    in.Amount.Round(2),
		Method:    in.Method,
		PaidAt:    paidAt.UTC(),
	}
	var status models.InvoiceStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		var err error
		status, err = syncStatus(tx, inv.ID)
		return err
	})
	if err != nil {
		return models.Payment{}, "", err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(inv.DojoID),
		Action:      models.AuditActionSettle,
		EntityType:  "invoice",
		EntityID:    inv.ID,
		Description: fmt.Sprintf("payment %s on %s, status %s", p.Amount.StringFixed(2), inv.Number, status),
		After:       p,
	})
	return p, status, nil
}

func (s *Service) Get(ctx context.Context, scope tenant.Scope, id uint) (models.Invoice, error) {
	var inv models.Invoice
	if err := tenant.Find(ctx, s.db, s.log, scope, id, &inv); err != nil {
		return inv, err
	}
	if err := s.db.WithContext(ctx).Where("invoice_id = ?", inv.ID).Order("id ASC").Find(&inv.Lines).Error; err != nil {
		return inv, fmt.Errorf("load invoice lines: %w", err)
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, scope tenant.Scope, memberID uint) ([]models.Invoice, error) {
	q := scope.Apply(s.db.WithContext(ctx).Model(&models.Invoice{}), "dojo_id")
	if memberID > 0 {
		q = q.Where("member_id = ?", memberID)
	}
	var out []models.Invoice
	if err := q.Order("issue_date DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return out, nil
}

func (s *Service) recordCreated(ctx context.Context, actor audit.Actor, inv models.Invoice) {
	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(inv.DojoID),
		Action:      models.AuditActionInvoiceAllocated,
		EntityType:  "invoice",
		EntityID:    inv.ID,
		Description: fmt.Sprintf("invoice %s, gross %s", inv.Number, inv.Gross.StringFixed(2)),
		After:       inv,
	})
}

func issueDay(t time.Time) time.Time {
	if t.IsZero() {
		t = time.Now()
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func cloneLines(in []models.InvoiceLine) []models.InvoiceLine {
	out := make([]models.InvoiceLine, len(in))
	copy(out, in)
	return out
}

func dedupe(ids []uint) []uint {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	out := sorted[:0]
	for i, id := range sorted {
		if i == 0 || id != sorted[i-1] {
			out = append(out, id)
		}
	}
	return out
}
