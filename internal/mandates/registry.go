// Package mandates keeps the SEPA mandate registry. Mandates are never
// deleted; revocation and archival are status changes.
package mandates

import (
	"context"
	"errors"
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

type Registry struct {
	db    *gorm.DB
	log   *zap.Logger
	audit audit.Recorder
	now   func() time.Time
}

func NewRegistry(db *gorm.DB, log *zap.Logger, rec audit.Recorder) *Registry {
	return &Registry{db: db, log: log, audit: rec, now: func() time.Time { return time.Now().UTC() }}
}

type CreateInput struct {
	MemberID   uint      `json:"member_id"`
	IBAN       string    `json:"iban"`
	BIC        string    `json:"bic"`
	Holder     string    `json:"holder"`
	CreditorID string    `json:"creditor_id"`
	SignedAt   time.Time `json:"signed_at"`
}

// Reference builds the mandate reference DOJO{dojo}-M{member}-{unix}.
func Reference(dojoID, memberID uint, at time.Time) string {
	return fmt.Sprintf("DOJO%d-M%d-%d", dojoID, memberID, at.Unix())
}

func (in CreateInput) validate() error {
	if err := sepa.ValidateIBAN(in.IBAN); err != nil {
		return err
	}
	if err := sepa.ValidateBIC(in.BIC); err != nil {
		return err
	}
	if strings.TrimSpace(in.Holder) == "" {
		return apperr.Validation("holder", "required")
	}
	if strings.TrimSpace(in.CreditorID) == "" {
		return apperr.Validation("creditor_id", "required")
	}
	return nil
}

// Create registers a new active mandate. A member can hold only one active
// mandate; losing the race to a concurrent create is retried once and then
// reported as a conflict.
func (r *Registry) Create(ctx context.Context, scope tenant.Scope, in CreateInput, actor audit.Actor) (models.SepaMandate, error) {
	if err := in.validate(); err != nil {
		return models.SepaMandate{}, err
	}
	var member models.Member
	if err := tenant.Find(ctx, r.db, r.log, scope, in.MemberID, &member); err != nil {
		return models.SepaMandate{}, err
	}
	if member.ArchivedAt != nil {
		return models.SepaMandate{}, apperr.Validation("member_id", "member is archived")
	}

	signed := in.SignedAt
	if signed.IsZero() {
		signed = r.now()
	}

	var m models.SepaMandate
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		m, err = r.insert(ctx, member, in, signed)
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.SepaMandate{}, err
		}
		r.log.Info("mandate insert lost a race", zap.Uint("member_id", member.ID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return models.SepaMandate{}, fmt.Errorf("member %d already has an active mandate: %w", member.ID, apperr.ErrConflict)
	}

	r.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(m.DojoID),
		Action:      models.AuditActionCreate,
		EntityType:  "sepa_mandate",
		EntityID:    m.ID,
		Description: "mandate " + m.Reference,
		After:       m,
	})
	return m, nil
}

func (r *Registry) insert(ctx context.Context, member models.Member, in CreateInput, signed time.Time) (models.SepaMandate, error) {
	var m models.SepaMandate
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.SepaMandate{}).
			Where("member_id = ? AND status = ?", member.ID, models.MandateActive).
			Count(&active).Error; err != nil {
			return fmt.Errorf("check active mandate: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("member %d already has an active mandate: %w", member.ID, apperr.ErrConflict)
		}

		ref, err := freeReference(tx, member, r.now())
		if err != nil {
			return err
		}
		m = models.SepaMandate{
			DojoID:     member.DojoID,
			MemberID:   member.ID,
			Reference:  ref,
			CreditorID: strings.TrimSpace(in.CreditorID),
			IBAN:       sepa.NormalizeIBAN(in.IBAN),
			BIC:        strings.ToUpper(strings.TrimSpace(in.BIC)),
			Holder:     strings.TrimSpace(in.Holder),
			Status:     models.MandateActive,
			SignedAt:   signed.UTC(),
		}
		return tx.Create(&m).Error
	})
	return m, err
}

// freeReference returns the reference for at, moving to the next second
// while the reference is taken by an earlier mandate of the member.
func freeReference(tx *gorm.DB, member models.Member, at time.Time) (string, error) {
	for i := 0; i < 60; i++ {
		ref := Reference(member.DojoID, member.ID, at.Add(time.Duration(i)*time.Second))
		var n int64
		if err := tx.Model(&models.SepaMandate{}).Where("reference = ?", ref).Count(&n).Error; err != nil {
			return "", fmt.Errorf("check mandate reference: %w", err)
		}
		if n == 0 {
			return ref, nil
		}
	}
	return "", fmt.Errorf("no free mandate reference for member %d: %w", member.ID, apperr.ErrConflict)
}

// Revoke moves an active mandate to revoked. Revoking twice is a conflict.
func (r *Registry) Revoke(ctx context.Context, scope tenant.Scope, id uint, reason string, actor audit.Actor) (models.SepaMandate, error) {
	var before models.SepaMandate
	if err := tenant.Find(ctx, r.db, r.log, scope, id, &before); err != nil {
		return before, err
	}
	after, err := r.revoke(r.db.WithContext(ctx), before, reason)
	if err != nil {
		return before, err
	}
	r.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(after.DojoID),
		Action:      models.AuditActionRevoke,
		EntityType:  "sepa_mandate",
		EntityID:    after.ID,
		Description: strings.TrimSpace("mandate " + after.Reference + " revoked " + reason),
		Before:      before,
		After:       after,
	})
	return after, nil
}

func (r *Registry) revoke(db *gorm.DB, m models.SepaMandate, reason string) (models.SepaMandate, error) {
	now := r.now()
	res := db.Model(&models.SepaMandate{}).
		Where("id = ? AND status = ?", m.ID, models.MandateActive).
		Updates(map[string]any{"status": models.MandateRevoked, "revoked_at": now, "revoke_reason": reason})
	if res.Error != nil {
		return m, fmt.Errorf("revoke mandate %d: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return m, fmt.Errorf("mandate %d is not active: %w", m.ID, apperr.ErrConflict)
	}
	var after models.SepaMandate
	if err := db.First(&after, m.ID).Error; err != nil {
		return m, err
	}
	return after, nil
}

// Archive hides a mandate from daily work. Active mandates are revoked first.
func (r *Registry) Archive(ctx context.Context, scope tenant.Scope, id uint, reason string, actor audit.Actor) (models.SepaMandate, error) {
	var before models.SepaMandate
	if err := tenant.Find(ctx, r.db, r.log, scope, id, &before); err != nil {
		return before, err
	}
	after, err := ArchiveTx(r.db.WithContext(ctx), before, reason, r.now())
	if err != nil {
		return before, err
	}
	r.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(after.DojoID),
		Action:      models.AuditActionArchive,
		EntityType:  "sepa_mandate",
		EntityID:    after.ID,
		Description: "mandate " + after.Reference + " archived",
		Before:      before,
		After:       after,
	})
	return after, nil
}

// ArchiveTx revokes and archives m inside db. Already archived mandates are left as they are.
func ArchiveTx(db *gorm.DB, m models.SepaMandate, reason string, at time.Time) (models.SepaMandate, error) {
	if m.ArchivedAt != nil {
		return m, nil
	}
	updates := map[string]any{"archived_at": at, "archive_reason": reason}
	if m.Status == models.MandateActive {
		updates["status"] = models.MandateRevoked
		updates["revoked_at"] = at
		updates["revoke_reason"] = reason
	}
	if err := db.Model(&models.SepaMandate{}).Where("id = ? AND archived_at IS NULL", m.ID).Updates(updates).Error; err != nil {
		return m, fmt.Errorf("archive mandate %d: %w", m.ID, err)
	}
	var after models.SepaMandate
	if err := db.First(&after, m.ID).Error; err != nil {
		return m, err
	}
	return after, nil
}

// Active returns the member's active mandate or apperr.ErrNotFound.
func (r *Registry) Active(ctx context.Context, scope tenant.Scope, memberID uint) (models.SepaMandate, error) {
	var m models.SepaMandate
	err := scope.Apply(r.db.WithContext(ctx).Model(&models.SepaMandate{}), "dojo_id").
		Where("member_id = ? AND status = ?", memberID, models.MandateActive).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return m, apperr.ErrNotFound
	}
	return m, err
}

func (r *Registry) ListForMember(ctx context.Context, scope tenant.Scope, memberID uint) ([]models.SepaMandate, error) {
	var member models.Member
	if err := tenant.Find(ctx, r.db, r.log, scope, memberID, &member); err != nil {
		return nil, err
	}
	var out []models.SepaMandate
	if err := r.db.WithContext(ctx).
		Where("member_id = ? AND dojo_id = ?", member.ID, member.DojoID).
		Order("created_at DESC, id DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list mandates: %w", err)
	}
	return out, nil
}
