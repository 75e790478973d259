package members

import (
	"context"
	"fmt"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/mandates"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ArchiveVersion identifies the list of cleanup steps below. Bump it when the
// list changes so archived members can be told apart by the cascade they got.
const ArchiveVersion = 1

type archiveStep struct {
	name string
	run  func(tx *gorm.DB, m models.Member, reason string, at time.Time) (int64, error)
}

var archiveSteps = []archiveStep{
	{name: "mandates", run: archiveMandates},
	{name: "contracts", run: endContracts},
	{name: "future_contributions", run: dropFutureContributions},
}

type StepResult struct {
	Step     string `json:"step"`
	Affected int64  `json:"affected"`
	Error    string `json:"error,omitempty"`
}

type ArchiveResult struct {
	MemberID uint         `json:"member_id"`
	Version  int          `json:"version"`
	Steps    []StepResult `json:"steps"`
}

// Archive marks a member archived and then runs each cleanup step on its own.
// A failing step is logged and reported; it does not stop the others.
func (s *Service) Archive(ctx context.Context, scope tenant.Scope, id uint, reason string, actor audit.Actor) (ArchiveResult, error) {
	var before models.Member
	if err := tenant.Find(ctx, s.db, s.log, scope, id, &before); err != nil {
		return ArchiveResult{}, err
	}
	if before.ArchivedAt != nil {
		return ArchiveResult{}, fmt.Errorf("member %d is already archived: %w", id, apperr.ErrConflict)
	}

	now := s.now()
	res := s.db.WithContext(ctx).Model(&models.Member{}).
		Where("id = ? AND archived_at IS NULL", id).
		Updates(map[string]any{"archived_at": now, "archive_reason": reason})
	if res.Error != nil {
		return ArchiveResult{}, fmt.Errorf("archive member: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ArchiveResult{}, fmt.Errorf("member %d is already archived: %w", id, apperr.ErrConflict)
	}

	out := ArchiveResult{MemberID: id, Version: ArchiveVersion}
	for _, step := range archiveSteps {
		sr := StepResult{Step: step.name}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := step.run(tx, before, reason, now)
			sr.Affected = n
			return err
		})
		if err != nil {
			sr.Error = err.Error()
			s.log.Error("archive step failed",
				zap.Uint("member_id", id),
				zap.String("step", step.name),
				zap.Int("version", ArchiveVersion),
				zap.Error(err),
			)
		} else {
			s.log.Info("archive step done", zap.Uint("member_id", id), zap.String("step", step.name), zap.Int64("affected", sr.Affected))
		}
		out.Steps = append(out.Steps, sr)
	}

	after := before
	after.ArchivedAt = &now
	after.ArchiveReason = reason
	s.audit.Record(ctx, audit.Event{
		Actor:       actor,
		DojoID:      audit.DojoRef(before.DojoID),
		Action:      models.AuditActionArchive,
		EntityType:  "member",
		EntityID:    id,
		Description: fmt.Sprintf("member %s archived (cascade v%d)", before.FullName(), ArchiveVersion),
		Before:      before,
		After:       map[string]any{"member": after, "cascade": out},
	})
	return out, nil
}

func archiveMandates(tx *gorm.DB, m models.Member, reason string, at time.Time) (int64, error) {
	var list []models.SepaMandate
	if err := tx.Where("member_id = ? AND archived_at IS NULL", m.ID).Find(&list).Error; err != nil {
		return 0, err
	}
	for _, md := range list {
		if _, err := mandates.ArchiveTx(tx, md, reason, at); err != nil {
			return 0, err
		}
	}
	return int64(len(list)), nil
}

func endContracts(tx *gorm.DB, m models.Member, _ string, at time.Time) (int64, error) {
	res := tx.Model(&models.Contract{}).
		Where("member_id = ? AND status = ?", m.ID, models.ContractActive).
		Updates(map[string]any{"status": models.ContractEnded, "end_date": at, "cancelled_at": at})
	return res.RowsAffected, res.Error
}

// dropFutureContributions removes dues after the archive date that nobody
// paid, invoiced or put into a collection run.
func dropFutureContributions(tx *gorm.DB, m models.Member, _ string, at time.Time) (int64, error) {
	res := tx.Where("member_id = ? AND paid = ? AND due_date > ? AND pending_item_id IS NULL AND invoice_id IS NULL", m.ID, false, at).
		Delete(&models.Contribution{})
	return res.RowsAffected, res.Error
}
