// Package members manages dojo members and their archival.
package members

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/sepa"
	"dojo-backend/internal/tenant"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	audit audit.Recorder
	now   func() time.Time
}

func NewService(db *gorm.DB, log *zap.Logger, rec audit.Recorder) *Service {
	return &Service{db: db, log: log, audit: rec, now: func() time.Time { return time.Now().UTC() }}
}

type CreateInput struct {
	DojoID                    *uint                `json:"dojo_id"` // super admins only
	FirstName                 string               `json:"first_name"`
	LastName                  string               `json:"last_name"`
	Email                     string               `json:"email"`
	PaymentMethod             models.PaymentMethod `json:"payment_method"`
	IBAN                      string               `json:"iban"`
	BIC                       string               `json:"bic"`
	AccountHolder             string               `json:"account_holder"`
	ProcessorCustomerRef      string               `json:"processor_customer_ref"`
	ProcessorPaymentMethodRef string               `json:"processor_payment_method_ref"`
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.FirstName) == "" {
		return apperr.Validation("first_name", "required")
	}
	if strings.TrimSpace(in.LastName) == "" {
		return apperr.Validation("last_name", "required")
	}
	if !in.PaymentMethod.Valid() {
		return apperr.Validation("payment_method", "bank_transfer, direct_debit or cash")
	}
	if in.PaymentMethod == models.PaymentDirectDebit {
		if err := sepa.ValidateIBAN(in.IBAN); err != nil {
			return err
		}
		if err := sepa.ValidateBIC(in.BIC); err != nil {
			return err
		}
		if strings.TrimSpace(in.AccountHolder) == "" {
			return apperr.Validation("account_holder", "required for direct debit")
		}
	}
	return nil
}

// Create adds a member to the scope's dojo. Banking details are dropped
// unless the member pays by direct debit.
func (s *Service) Create(ctx context.Context, scope tenant.Scope, in CreateInput, actor audit.Actor) (models.Member, error) {
	if err := in.validate(); err != nil {
		return models.Member{}, err
	}
	if in.DojoID != nil {
		scope = scope.Narrow(*in.DojoID)
	}
	dojoID, err := scope.Require()
	if err != nil {
		return models.Member{}, err
	}

	m := models.Member{
		DojoID:                    dojoID,
		FirstName:                 strings.TrimSpace(in.FirstName),
		LastName:                  strings.TrimSpace(in.LastName),
		Email:                     strings.TrimSpace(in.Email),
		PaymentMethod:             in.PaymentMethod,
		ProcessorCustomerRef:      in.ProcessorCustomerRef,
		ProcessorPaymentMethodRef: in.ProcessorPaymentMethodRef,
	}
	if in.PaymentMethod == models.PaymentDirectDebit {
		m.IBAN = sepa.NormalizeIBAN(in.IBAN)
		m.BIC = strings.ToUpper(strings.TrimSpace(in.BIC))
		m.AccountHolder = strings.TrimSpace(in.AccountHolder)
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return models.Member{}, fmt.Errorf("create member: %w", err)
	}

	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(m.DojoID),
		Action:      models.AuditActionCreate,
		EntityType:  "member",
		EntityID:    m.ID,
		Description: "member " + m.FullName(),
		After:       m,
	})
	return m, nil
}

func (s *Service) Get(ctx context.Context, scope tenant.Scope, id uint) (models.Member, error) {
	var m models.Member
	err := tenant.Find(ctx, s.db, s.log, scope, id, &m)
	return m, err
}

type Filter struct {
	IncludeArchived bool
	PaymentMethod   models.PaymentMethod
	Search          string
}

func (s *Service) List(ctx context.Context, scope tenant.Scope, f Filter) ([]models.Member, error) {
	q := scope.Apply(s.db.WithContext(ctx).Model(&models.Member{}), "dojo_id")
	if !f.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}
	if f.PaymentMethod != "" {
		q = q.Where("payment_method = ?", f.PaymentMethod)
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR LOWER(email) LIKE ?", like, like, like)
	}
	var out []models.Member
	if err := q.Order("last_name ASC, first_name ASC, id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return out, nil
}
