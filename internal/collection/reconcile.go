package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/audit"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler is the only place that ends processing items.
type Reconciler struct {
	db       *gorm.DB
	log      *zap.Logger
	audit    audit.Recorder
	proc     Processor
	currency string
	timeout  time.Duration
	now      func() time.Time
}

func NewReconciler(db *gorm.DB, log *zap.Logger, rec audit.Recorder, proc Processor, opts Options) *Reconciler {
	if opts.ProcessorTimeout <= 0 {
		opts.ProcessorTimeout = 15 * time.Second
	}
	if opts.Currency == "" {
		opts.Currency = "EUR"
	}
	return &Reconciler{
		db:       db,
		log:      log,
		audit:    rec,
		proc:     proc,
		currency: opts.Currency,
		timeout:  opts.ProcessorTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type EventInput struct {
	Provider      string
	EventID       string
	Reference     string
	Outcome       models.ItemOutcome
	FailureReason string
	Payload       []byte
}

type ApplyResult struct {
	Duplicate bool               `json:"duplicate"`
	Applied   bool               `json:"applied"`
	ItemID    uint               `json:"item_id,omitempty"`
	Outcome   models.ItemOutcome `json:"outcome,omitempty"`
}

func (in EventInput) validate() error {
	if strings.TrimSpace(in.EventID) == "" {
		return apperr.Validation("event_id", "required")
	}
	if strings.TrimSpace(in.Reference) == "" {
		return apperr.Validation("reference", "required")
	}
	switch in.Outcome {
	case models.OutcomeSucceeded, models.OutcomeFailed, models.OutcomeProcessing:
		return nil
	}
	return apperr.Validation("outcome", "must be succeeded, failed or processing")
}

// ApplyEvent applies one processor notification. Events are stored once per
// (provider, event id) in the same transaction that applies them, so a
// delivery whose apply step fails leaves no trace and can be redelivered.
func (r *Reconciler) ApplyEvent(ctx context.Context, in EventInput) (ApplyResult, error) {
	var out ApplyResult
	if in.Provider == "" {
		in.Provider = "processor"
	}
	if err := in.validate(); err != nil {
		return out, err
	}

	now := r.now()
	var item models.CollectionItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ev := models.ProcessorEvent{
			Provider:        in.Provider,
			ProviderEventID: clip(in.EventID, 191),
			Reference:       clip(in.Reference, 100),
			Outcome:         in.Outcome,
			FailureReason:   clip(in.FailureReason, 255),
		}
		if len(in.Payload) > 0 {
			ev.Payload = datatypes.JSON(in.Payload)
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&ev)
		if res.Error != nil {
			return fmt.Errorf("store processor event: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			out.Duplicate = true
			return nil
		}

		err := tx.Where("processor_ref = ? OR idempotency_key = ?", in.Reference, in.Reference).
			Order("id DESC").First(&item).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Warn("processor event for unknown reference", zap.String("event_id", in.EventID), zap.String("reference", in.Reference))
			return finishEvent(tx, ev.ID, now, "unknown reference")
		}
		if err != nil {
			return fmt.Errorf("find collection item: %w", err)
		}
		out.ItemID = item.ID

		var batch models.CollectionBatch
		if err := tx.Select("id", "channel").First(&batch, item.BatchID).Error; err != nil {
			return fmt.Errorf("load batch of item %d: %w", item.ID, err)
		}
		if batch.Channel != models.ChannelLiveProcessor {
			// Export items are informational; the bank file is settled by hand.
			return finishEvent(tx, ev.ID, now, "item belongs to a file export")
		}

		switch in.Outcome {
		case models.OutcomeSucceeded:
			ok, err := settleItem(tx, item, in.Reference, now)
			if err != nil {
				return err
			}
			out.Applied = ok
		case models.OutcomeFailed:
			ok, err := failItem(tx, item, in.Reference, in.FailureReason)
			if err != nil {
				return err
			}
			out.Applied = ok
		default:
			if err := markProcessing(tx, item.ID, in.Reference, in.FailureReason); err != nil {
				return err
			}
		}
		if _, err := refreshBatch(tx, item.BatchID, now); err != nil {
			return err
		}
		if err := finishEvent(tx, ev.ID, now, ""); err != nil {
			return err
		}
		return tx.Select("id", "outcome", "dojo_id").First(&item, item.ID).Error
	})
	if err != nil {
		r.log.Error("apply processor event", zap.String("event_id", in.EventID), zap.String("reference", in.Reference), zap.Error(err))
		return ApplyResult{}, err
	}
	if out.ItemID != 0 {
		out.Outcome = item.Outcome
	}
	if out.Applied {
		r.audit.Record(ctx, audit.Event{
			Actor:       audit.System,
			DojoID:      audit.DojoRef(item.DojoID),
			Action:      models.AuditActionReconcile,
			EntityType:  "collection_item",
			EntityID:    item.ID,
			Description: fmt.Sprintf("%s event %s", in.Provider, in.EventID),
			After:       map[string]any{"outcome": item.Outcome, "reference": in.Reference},
			At:          now,
		})
	}
	return out, nil
}

// finishEvent marks an event processed, or records why it was ignored.
func finishEvent(tx *gorm.DB, eventID uint, at time.Time, ignored string) error {
	updates := map[string]any{"processed_at": at}
	if ignored != "" {
		updates["processing_error"] = ignored
	}
	if err := tx.Model(&models.ProcessorEvent{}).Where("id = ?", eventID).Updates(updates).Error; err != nil {
		return fmt.Errorf("finish processor event %d: %w", eventID, err)
	}
	return nil
}

type PollResult struct {
	Checked int      `json:"checked"`
	Settled int      `json:"settled"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

// PollProcessing asks the processor about every open item in scope. Items
// without a processor reference are resubmitted with their idempotency key,
// which returns the original charge instead of creating a second one.
func (r *Reconciler) PollProcessing(ctx context.Context, scope tenant.Scope) (PollResult, error) {
	out := PollResult{Errors: []string{}}
	var items []models.CollectionItem
	q := scope.Apply(r.db.WithContext(ctx).Model(&models.CollectionItem{}), "dojo_id")
	if err := q.Where("outcome = ?", models.OutcomeProcessing).Order("id ASC").Find(&items).Error; err != nil {
		return out, fmt.Errorf("load processing items: %w", err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		out.Checked++
		res, err := r.lookup(ctx, item)
		if err != nil {
			r.log.Warn("poll processing item", zap.Uint("item_id", item.ID), zap.Error(err))
			out.Errors = append(out.Errors, fmt.Sprintf("item %d: %v", item.ID, err))
			continue
		}
		if !res.Outcome.Terminal() {
			continue
		}
		ref := res.Reference
		if ref == "" {
			ref = item.IdempotencyKey
		}
		applied, err := r.ApplyEvent(ctx, EventInput{
			Provider:      "poll",
			EventID:       fmt.Sprintf("poll:%d:%s", item.ID, res.Outcome),
			Reference:     ref,
			Outcome:       res.Outcome,
			FailureReason: res.FailureReason,
		})
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("item %d: %v", item.ID, err))
			continue
		}
		if applied.Applied {
			if res.Outcome == models.OutcomeSucceeded {
				out.Settled++
			} else {
				out.Failed++
			}
		}
	}
	return out, nil
}

func (r *Reconciler) lookup(ctx context.Context, item models.CollectionItem) (CollectResult, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if item.ProcessorRef != "" {
		return r.proc.Status(cctx, item.ProcessorRef)
	}

	var member models.Member
	if err := r.db.WithContext(ctx).First(&member, item.MemberID).Error; err != nil {
		return CollectResult{}, fmt.Errorf("load member: %w", err)
	}
	var batch models.CollectionBatch
	if err := r.db.WithContext(ctx).First(&batch, item.BatchID).Error; err != nil {
		return CollectResult{}, fmt.Errorf("load batch: %w", err)
	}
	return r.proc.Collect(cctx, CollectRequest{
		CustomerRef:      member.ProcessorCustomerRef,
		PaymentMethodRef: member.ProcessorPaymentMethodRef,
		Amount:           item.Amount,
		Currency:         r.currency,
		IdempotencyKey:   item.IdempotencyKey,
		Description:      fmt.Sprintf("Beitrag %s", batch.Period),
	})
}
