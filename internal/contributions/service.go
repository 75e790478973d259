package contributions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/billing"
	"dojo-backend/internal/invoices"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	audit audit.Recorder
	gen   *Generator
}

func NewService(db *gorm.DB, log *zap.Logger, rec audit.Recorder, gen *Generator) *Service {
	return &Service{db: db, log: log, audit: rec, gen: gen}
}

type ContractInput struct {
	MemberID          uint                 `json:"member_id"`
	StartDate         time.Time            `json:"start_date"`
	EndDate           *time.Time           `json:"end_date"`
	MinimumTermMonths int                  `json:"minimum_term_months"`
	TariffAmount      decimal.Decimal      `json:"tariff_amount"`
	BillingCycle      models.BillingCycle  `json:"billing_cycle"`
	SignupFee         decimal.Decimal      `json:"signup_fee"`
	PaymentMethod     models.PaymentMethod `json:"payment_method"`
}

// CreateContract stores a contract for a member in scope and generates its
// contributions. The monthly amount is always derived from the tariff.
func (s *Service) CreateContract(ctx context.Context, scope tenant.Scope, in ContractInput, actor audit.Actor) (models.Contract, Result, error) {
	if in.StartDate.IsZero() {
		return models.Contract{}, Result{}, apperr.Validation("start_date", "required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.StartDate) {
		return models.Contract{}, Result{}, apperr.Validation("end_date", "before start date")
	}
	if in.TariffAmount.IsNegative() || in.SignupFee.IsNegative() {
		return models.Contract{}, Result{}, apperr.Validation("tariff_amount", "must not be negative")
	}
	cycle := in.BillingCycle
	switch cycle {
	case "":
		cycle = models.CycleMonthly
	case models.CycleMonthly, models.CycleQuarterly, models.CycleYearly:
	default:
		return models.Contract{}, Result{}, apperr.Validation("billing_cycle", "monthly, quarterly or yearly")
	}

	var member models.Member
	if err := tenant.Find(ctx, s.db, s.log, scope, in.MemberID, &member); err != nil {
		return models.Contract{}, Result{}, err
	}
	if member.ArchivedAt != nil {
		return models.Contract{}, Result{}, apperr.Validation("member_id", "member is archived")
	}
	method := in.PaymentMethod
	if method == "" {
		method = member.PaymentMethod
	}
	if !method.Valid() {
		return models.Contract{}, Result{}, apperr.Validation("payment_method", "unknown payment method")
	}

	term := in.MinimumTermMonths
	if term <= 0 {
		term = models.DefaultMinimumTermMonths
	}
	c := models.Contract{
		DojoID:            member.DojoID,
		MemberID:          member.ID,
		Status:            models.ContractActive,
		StartDate:         billing.DayStart(in.StartDate),
		EndDate:           in.EndDate,
		MinimumTermMonths: term,
		MonthlyAmount:     billing.MonthlyAmount(in.TariffAmount, cycle),
		BillingCycle:      cycle,
		TariffAmount:      in.TariffAmount,
		SignupFee:         in.SignupFee,
		PaymentMethod:     method,
	}
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return models.Contract{}, Result{}, fmt.Errorf("create contract: %w", err)
	}
	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(c.DojoID),
		Action:      models.AuditActionCreate,
		EntityType:  "contract",
		EntityID:    c.ID,
		Description: fmt.Sprintf("contract for member %d, %s per month", member.ID, c.MonthlyAmount.StringFixed(2)),
		After:       c,
	})

	res, err := s.gen.forContract(ctx, c)
	if err != nil {
		return c, res, fmt.Errorf("generate contributions: %w", err)
	}
	return c, res, nil
}

type Filter struct {
	MemberID   uint
	ContractID uint
	Period     string
	UnpaidOnly bool
}

func (s *Service) List(ctx context.Context, scope tenant.Scope, f Filter) ([]models.Contribution, error) {
	q := scope.Apply(s.db.WithContext(ctx).Model(&models.Contribution{}), "dojo_id")
	if f.MemberID > 0 {
		q = q.Where("member_id = ?", f.MemberID)
	}
	if f.ContractID > 0 {
		q = q.Where("contract_id = ?", f.ContractID)
	}
	if f.Period != "" {
		if _, err := billing.ParsePeriod(f.Period); err != nil {
			return nil, apperr.Validation("period", "expected YYYY-MM")
		}
		q = q.Where("period = ?", f.Period)
	}
	if f.UnpaidOnly {
		q = q.Where("paid = ?", false)
	}
	var out []models.Contribution
	if err := q.Order("due_date ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	return out, nil
}

// MarkPaid settles a contribution by hand. It loses against a collection run
// that holds the row, and against an earlier settlement.
func (s *Service) MarkPaid(ctx context.Context, scope tenant.Scope, id uint, method models.PaymentMethod, actor audit.Actor) (models.Contribution, error) {
	var before models.Contribution
	if err := tenant.Find(ctx, s.db, s.log, scope, id, &before); err != nil {
		return before, err
	}
	if before.Paid {
		return before, apperr.ErrAlreadySettled
	}
	if method == "" {
		method = before.PaymentMethod
	}
	if !method.Valid() {
		return before, apperr.Validation("method", "unknown payment method")
	}

	now := time.Now().UTC()
	var after models.Contribution
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND paid = ? AND pending_item_id IS NULL", id, false).
			Updates(map[string]any{"paid": true, "paid_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark contribution paid: %w", res.Error)
		}
		if err := tx.First(&after, id).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			if after.Paid {
				return apperr.ErrAlreadySettled
			}
			return fmt.Errorf("contribution %d is held by a collection run: %w", id, apperr.ErrConflict)
		}
		return invoices.ApplyContributionPayment(tx, after, nil, method, now)
	})
	if err != nil {
		return before, err
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(after.DojoID),
		Action:      models.AuditActionSettle,
		EntityType:  "contribution",
		EntityID:    after.ID,
		Description: fmt.Sprintf("contribution %s marked paid (%s)", after.Period, method),
		Before:      before,
		After:       after,
	})
	return after, nil
}

// AdvanceDunning raises the dunning stage of the given unpaid contributions in scope.
func (s *Service) AdvanceDunning(ctx context.Context, scope tenant.Scope, ids []uint) (int64, error) {
	var visible []uint
	q := scope.Apply(s.db.WithContext(ctx).Model(&models.Contribution{}), "dojo_id")
	if err := q.Where("id IN ?", ids).Pluck("id", &visible).Error; err != nil {
		return 0, fmt.Errorf("resolve contributions: %w", err)
	}
	return AdvanceDunning(s.db.WithContext(ctx), visible)
}

type Deviation struct {
	ContractID    uint                `json:"contract_id"`
	MemberID      uint                `json:"member_id"`
	MemberName    string              `json:"member_name"`
	MonthlyAmount decimal.Decimal     `json:"monthly_amount"`
	TariffAmount  decimal.Decimal     `json:"tariff_amount"`
	BillingCycle  models.BillingCycle `json:"billing_cycle"`
	Expected      decimal.Decimal     `json:"expected_monthly_amount"`
}

// TariffDeviations lists active contracts whose monthly amount disagrees with
// their tariff.
func (s *Service) TariffDeviations(ctx context.Context, scope tenant.Scope) ([]Deviation, error) {
	var contracts []models.Contract
	q := scope.Apply(s.db.WithContext(ctx).Model(&models.Contract{}), "contracts.dojo_id")
	if err := q.Preload("Member").Where("status = ?", models.ContractActive).Order("id ASC").Find(&contracts).Error; err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}

	out := make([]Deviation, 0)
	for _, c := range contracts {
		if !billing.Deviates(c) {
			continue
		}
		out = append(out, Deviation{
			ContractID:    c.ID,
			MemberID:      c.MemberID,
			MemberName:    strings.TrimSpace(c.Member.FullName()),
			MonthlyAmount: c.MonthlyAmount,
			TariffAmount:  c.TariffAmount,
			BillingCycle:  c.BillingCycle,
			Expected:      billing.MonthlyAmount(c.TariffAmount, c.BillingCycle),
		})
	}
	return out, nil
}

// Generator exposes the generator for handlers and the CLI.
func (s *Service) Generator() *Generator {
	return s.gen
}
