package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dojo-backend/internal/audit"
	"dojo-backend/internal/contributions"
	"dojo-backend/internal/models"
	"dojo-backend/internal/tenant"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	ReasonAlreadySettled = "already settled"
	ReasonMandateGone    = "mandate no longer active"
	ReasonNoProcessorRef = "member has no processor payment method"
)

type ExecuteRequest struct {
	Window Window
	Actor  audit.Actor
}

type ExecuteResult struct {
	Batch           models.CollectionBatch  `json:"batch"`
	Items           []models.CollectionItem `json:"items"`
	MissingMandates []MissingMandate        `json:"missing_mandates"`
	// Members not attempted because the run was aborted.
	Aborted []uint `json:"aborted"`
}

// Execute runs a live processor batch for one dojo and window. Each member is
// recorded on its own; a failing member never rolls back another. A local
// error that prevents recording an outcome aborts the members not started yet.
func (e *Engine) Execute(ctx context.Context, scope tenant.Scope, req ExecuteRequest) (ExecuteResult, error) {
	var out ExecuteResult
	dojoID, err := scope.Require()
	if err != nil {
		return out, err
	}
	if err := req.Window.Validate(); err != nil {
		return out, err
	}
	if err := req.Window.SinglePeriod(); err != nil {
		return out, err
	}
	period := req.Window.Period()

	release, err := e.locker.Acquire(ctx, dojoID, period, models.ChannelLiveProcessor)
	if err != nil {
		return out, err
	}
	defer release()

	db := e.db.WithContext(ctx)
	p, err := e.preview(ctx, db, tenant.ForDojo(dojoID), req.Window)
	if err != nil {
		return out, err
	}
	out.MissingMandates = p.MissingMandates

	now := e.now()
	batch := models.CollectionBatch{
		DojoID:      dojoID,
		Reference:   uuid.NewString(),
		Period:      period,
		WindowFrom:  req.Window.From,
		WindowTo:    req.Window.To,
		Channel:     models.ChannelLiveProcessor,
		Status:      models.BatchBuilding,
		TotalAmount: p.Total,
		CreatedBy:   req.Actor.ID,
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&batch).Error; err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		if err := moveBatch(tx, &batch, models.BatchPreviewing, now); err != nil {
			return err
		}
		if err := moveBatch(tx, &batch, models.BatchExecuting, now); err != nil {
			return err
		}
		batch.ExecutedAt = &now
		return tx.Model(&models.CollectionBatch{}).Where("id = ?", batch.ID).Update("executed_at", now).Error
	})
	if err != nil {
		return out, err
	}

	log := e.log.With(zap.Uint("dojo_id", dojoID), zap.String("batch", batch.Reference), zap.String("period", period))
	log.Info("collection batch started", zap.Int("members", len(p.Payable)), zap.String("total", p.Total.StringFixed(2)))

	var (
		mu      sync.Mutex
		started = map[uint]bool{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for _, m := range p.Payable {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			mu.Lock()
			started[m.MemberID] = true
			mu.Unlock()
			if err := e.collectMember(gctx, log, batch, m); err != nil {
				log.Error("collection aborted", zap.Uint("member_id", m.MemberID), zap.Error(err))
				return fmt.Errorf("member %d: %w", m.MemberID, err)
			}
			return nil
		})
	}
	runErr := g.Wait()

	for _, m := range p.Payable {
		if !started[m.MemberID] {
			out.Aborted = append(out.Aborted, m.MemberID)
		}
	}

	// Finalize even when the caller went away; recorded outcomes must be counted.
	fctx := context.WithoutCancel(ctx)
	err = e.db.WithContext(fctx).Transaction(func(tx *gorm.DB) error {
		if err := moveBatch(tx, &batch, models.BatchReconciling, e.now()); err != nil {
			return err
		}
		b, err := refreshBatch(tx, batch.ID, e.now())
		if err != nil {
			return err
		}
		batch = b
		return nil
	})
	if err != nil {
		return out, errors.Join(runErr, err)
	}
	if err := e.db.WithContext(fctx).Where("batch_id = ?", batch.ID).Order("member_id ASC").Find(&out.Items).Error; err != nil {
		return out, errors.Join(runErr, fmt.Errorf("load batch items: %w", err))
	}
	out.Batch = batch

	log.Info("collection batch finished",
		zap.String("status", string(batch.Status)),
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("processing", batch.Processing),
		zap.Int("failed", batch.Failed),
		zap.Int("skipped", batch.Skipped),
		zap.Int("aborted", len(out.Aborted)),
	)
	e.audit.Record(fctx, audit.Event{
		Actor:       req.Actor,
		DojoID:      audit.DojoRef(dojoID),
		Action:      models.AuditActionExecute,
		EntityType:  "collection_batch",
		EntityID:    batch.ID,
		Description: fmt.Sprintf("live collection for %s", period),
		After: map[string]any{
			"status":     batch.Status,
			"succeeded":  batch.Succeeded,
			"processing": batch.Processing,
			"failed":     batch.Failed,
			"skipped":    batch.Skipped,
			"aborted":    out.Aborted,
		},
		At: e.now(),
	})
	return out, runErr
}

// collectMember runs one member's steps in order: mandate check, claim,
// submission, outcome. Only local recording failures are returned.
func (e *Engine) collectMember(ctx context.Context, log *zap.Logger, batch models.CollectionBatch, m PayableMember) error {
	db := e.db.WithContext(ctx)
	mandateID := m.Mandate.ID
	item := models.CollectionItem{
		BatchID:        batch.ID,
		DojoID:         m.DojoID,
		MemberID:       m.MemberID,
		MandateID:      &mandateID,
		IdempotencyKey: IdempotencyKey(batch.Reference, m.MemberID),
		Outcome:        models.OutcomePending,
		Amount:         decimal.Zero,
	}

	var skipReason string
	err := db.Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.SepaMandate{}).
			Where("id = ? AND member_id = ? AND status = ?", mandateID, m.MemberID, models.MandateActive).
			Count(&active).Error; err != nil {
			return fmt.Errorf("check mandate: %w", err)
		}
		if active == 0 {
			skipReason = ReasonMandateGone
			item.Outcome = models.OutcomeSkipped
			item.FailureReason = skipReason
			return tx.Create(&item).Error
		}

		if err := tx.Create(&item).Error; err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		var claimed []uint
		amount := decimal.Zero
		for _, c := range m.Contributions {
			ok, err := contributions.Claim(tx, c.ID, item.ID)
			if err != nil {
				return err
			}
			if ok {
				claimed = append(claimed, c.ID)
				amount = amount.Add(c.Amount)
			}
		}
		item.ContributionIDs = joinIDs(claimed)
		item.Amount = amount
		if len(claimed) == 0 {
			skipReason = ReasonAlreadySettled
			item.Outcome = models.OutcomeSkipped
			item.FailureReason = skipReason
		} else if m.CustomerRef == "" || m.PaymentMethodRef == "" {
			if err := contributions.Release(tx, claimed, item.ID); err != nil {
				return err
			}
			skipReason = ReasonNoProcessorRef
			item.Outcome = models.OutcomeSkipped
			item.FailureReason = skipReason
		}
		return tx.Model(&models.CollectionItem{}).Where("id = ?", item.ID).Updates(map[string]any{
			"contribution_ids": item.ContributionIDs,
			"amount":           item.Amount,
			"outcome":          item.Outcome,
			"failure_reason":   item.FailureReason,
		}).Error
	})
	if err != nil {
		return err
	}
	if skipReason != "" {
		log.Info("collection item skipped", zap.Uint("member_id", m.MemberID), zap.String("reason", skipReason))
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.opts.ProcessorTimeout)
	res, callErr := e.proc.Collect(cctx, CollectRequest{
		CustomerRef:      m.CustomerRef,
		PaymentMethodRef: m.PaymentMethodRef,
		Amount:           item.Amount,
		Currency:         e.opts.Currency,
		IdempotencyKey:   item.IdempotencyKey,
		Description:      fmt.Sprintf("Beitrag %s", batch.Period),
	})
	cancel()

	// Outcomes are recorded even if the batch context was cancelled meanwhile.
	rdb := e.db.WithContext(context.WithoutCancel(ctx))
	now := e.now()
	if callErr != nil {
		log.Warn("processor call failed, item left processing", zap.Uint("member_id", m.MemberID), zap.Error(callErr))
		return markProcessing(rdb, item.ID, "", callErr.Error())
	}
	switch res.Outcome {
	case models.OutcomeSucceeded:
		return rdb.Transaction(func(tx *gorm.DB) error {
			_, err := settleItem(tx, item, res.Reference, now)
			return err
		})
	case models.OutcomeFailed:
		return rdb.Transaction(func(tx *gorm.DB) error {
			_, err := failItem(tx, item, res.Reference, res.FailureReason)
			return err
		})
	default:
		return markProcessing(rdb, item.ID, res.Reference, res.FailureReason)
	}
}
