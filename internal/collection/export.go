package collection

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/sepa"
	"dojo-backend/internal/tenant"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ExportRequest struct {
	Window            Window
	CreditorAccountID uint
	Format            sepa.Format
	Actor             audit.Actor
}

type ExportResult struct {
	Batch           models.CollectionBatch `json:"batch"`
	Filename        string                 `json:"filename"`
	ContentType     string                 `json:"-"`
	Content         []byte                 `json:"-"`
	MissingMandates []MissingMandate       `json:"missing_mandates"`
}

// Export renders the payable set into a bank file for one creditor account.
// The file is informational: contributions and mandates are left untouched,
// the batch and its pending items only record what went into the file.
func (e *Engine) Export(ctx context.Context, scope tenant.Scope, req ExportRequest) (ExportResult, error) {
	var out ExportResult
	if err := req.Window.Validate(); err != nil {
		return out, err
	}
	if req.Format == "" {
		req.Format = sepa.FormatXML
	}
	if req.CreditorAccountID == 0 {
		return out, apperr.Validation("creditor_account_id", "required")
	}

	var account models.CreditorAccount
	if err := tenant.Find(ctx, e.db, e.log, scope, req.CreditorAccountID, &account); err != nil {
		return out, err
	}
	if !account.IsActive {
		return out, apperr.Validation("creditor_account_id", "account is inactive")
	}
	var dojo models.Dojo
	if err := e.db.WithContext(ctx).First(&dojo, account.DojoID).Error; err != nil {
		return out, fmt.Errorf("load dojo: %w", err)
	}

	// One creditor per file, so only that account's dojo is exported.
	dojoScope := scope.Narrow(account.DojoID)
	p, err := e.preview(ctx, e.db.WithContext(ctx), dojoScope, req.Window)
	if err != nil {
		return out, err
	}

	batchRef := uuid.NewString()
	now := e.now()
	doc := sepa.Document{
		MessageID: strings.ReplaceAll(batchRef, "-", ""),
		CreatedAt: now,
		Currency:  e.opts.Currency,
		Creditor: sepa.Creditor{
			Name:       creditorName(dojo),
			CreditorID: account.CreditorID,
			IBAN:       account.IBAN,
			BIC:        account.BIC,
		},
	}
	for _, m := range p.Payable {
		doc.Debits = append(doc.Debits, sepa.Debit{
			EndToEndID:  IdempotencyKey(batchRef, m.MemberID)[:35],
			MandateRef:  m.Mandate.Reference,
			MandateDate: m.Mandate.SignedAt,
			IBAN:        m.Mandate.IBAN,
			BIC:         m.Mandate.BIC,
			Holder:      m.Mandate.Holder,
			Amount:      m.Amount,
			DueDate:     m.DueDate,
			Remittance:  remittance(dojo, m),
		})
	}

	var buf bytes.Buffer
	if err := sepa.Write(&buf, req.Format, doc); err != nil {
		return out, fmt.Errorf("render %s export: %w", req.Format, err)
	}

	accountID := account.ID
	batch := models.CollectionBatch{
		DojoID:          account.DojoID,
		Reference:       batchRef,
		Period:          req.Window.Period(),
		WindowFrom:      req.Window.From,
		WindowTo:        req.Window.To,
		Channel:         models.ChannelFileExport,
		Format:          string(req.Format),
		CreditorAccount: &accountID,
		Status:          models.BatchBuilding,
		TotalAmount:     p.Total,
		ItemCount:       len(p.Payable),
		CreatedBy:       req.Actor.ID,
	}
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("create export batch: %w", err)
		}
		for _, m := range p.Payable {
			mandateID := m.Mandate.ID
			item := models.CollectionItem{
				BatchID:         batch.ID,
				DojoID:          m.DojoID,
				MemberID:        m.MemberID,
				MandateID:       &mandateID,
				Amount:          m.Amount,
				ContributionIDs: joinIDs(ids(m.Contributions)),
				IdempotencyKey:  IdempotencyKey(batchRef, m.MemberID),
				Outcome:         models.OutcomePending,
			}
			if err := tx.Create(&item).Error; err != nil {
				return fmt.Errorf("record export item for member %d: %w", m.MemberID, err)
			}
			batch.Items = append(batch.Items, item)
		}
		for _, next := range []models.BatchStatus{models.BatchPreviewing, models.BatchExporting, models.BatchClosed} {
			if err := moveBatch(tx, &batch, next, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}

	e.log.Info("collection export written",
		zap.Uint("dojo_id", batch.DojoID),
		zap.String("batch", batch.Reference),
		zap.String("format", string(req.Format)),
		zap.Int("debits", len(doc.Debits)),
		zap.Int("missing_mandates", len(p.MissingMandates)),
	)
	e.audit.Record(ctx, audit.Event{
		Actor:       req.Actor,
		DojoID:      audit.DojoRef(batch.DojoID),
		Action:      models.AuditActionExport,
		EntityType:  "collection_batch",
		EntityID:    batch.ID,
		Description: fmt.Sprintf("%s export for %s with %d debits", req.Format, batch.Period, len(doc.Debits)),
		After:       map[string]any{"total": p.Total.StringFixed(2), "items": len(doc.Debits), "creditor_account_id": account.ID},
		At:          now,
	})

	out.Batch = batch
	out.Filename = fmt.Sprintf("lastschrift-%d-%s.%s", batch.DojoID, batch.Period, req.Format)
	out.ContentType = req.Format.ContentType()
	out.Content = buf.Bytes()
	out.MissingMandates = p.MissingMandates
	return out, nil
}

// moveBatch applies one state machine step, conditional on the current status.
func moveBatch(tx *gorm.DB, b *models.CollectionBatch, next models.BatchStatus, at time.Time) error {
	if err := Advance(b.Status, next); err != nil {
		return err
	}
	updates := map[string]any{"status": next}
	if next == models.BatchClosed {
		updates["closed_at"] = at
	}
	res := tx.Model(&models.CollectionBatch{}).Where("id = ? AND status = ?", b.ID, b.Status).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("move batch %d to %s: %w", b.ID, next, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("move batch %d to %s: %w", b.ID, next, apperr.ErrConflict)
	}
	b.Status = next
	if next == models.BatchClosed {
		b.ClosedAt = &at
	}
	return nil
}

func creditorName(d models.Dojo) string {
	if d.CreditorName != "" {
		return d.CreditorName
	}
	return d.Name
}

func remittance(d models.Dojo, m PayableMember) string {
	periods := make([]string, 0, len(m.Contributions))
	for _, c := range m.Contributions {
		periods = append(periods, c.Period)
	}
	return clip(fmt.Sprintf("Beitrag %s %s M%d", d.Name, strings.Join(periods, ","), m.MemberID), 140)
}
