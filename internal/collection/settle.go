package collection

import (
	"fmt"
	"time"

	"dojo-backend/internal/contributions"
	"dojo-backend/internal/invoices"
	"dojo-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var openOutcomes = []models.ItemOutcome{models.OutcomePending, models.OutcomeProcessing}

// flipItem moves an item out of pending/processing. It reports false when the
// item already reached a terminal outcome.
func flipItem(tx *gorm.DB, itemID uint, outcome models.ItemOutcome, ref, reason string) (bool, error) {
	updates := map[string]any{"outcome": outcome, "failure_reason": clip(reason, 255)}
	if ref != "" {
		updates["processor_ref"] = ref
	}
	res := tx.Model(&models.CollectionItem{}).
		Where("id = ? AND outcome IN ?", itemID, openOutcomes).
		Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("record outcome of item %d: %w", itemID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// settleItem marks the item succeeded and settles the contributions it holds.
// Settled contributions get a payment on their invoice, if any.
func settleItem(tx *gorm.DB, item models.CollectionItem, ref string, at time.Time) (bool, error) {
	ok, err := flipItem(tx, item.ID, models.OutcomeSucceeded, ref, "")
	if err != nil || !ok {
		return false, err
	}
	settled, err := contributions.SettleClaimed(tx, parseIDs(item.ContributionIDs), item.ID, at)
	if err != nil {
		return false, err
	}
	itemID := item.ID
	for _, c := range settled {
		if err := invoices.ApplyContributionPayment(tx, c, &itemID, models.PaymentDirectDebit, at); err != nil {
			return false, err
		}
	}
	return true, nil
}

// failItem marks the item failed, releases its claims and moves the
// contributions one dunning stage up.
func failItem(tx *gorm.DB, item models.CollectionItem, ref, reason string) (bool, error) {
	ok, err := flipItem(tx, item.ID, models.OutcomeFailed, ref, reason)
	if err != nil || !ok {
		return false, err
	}
	cids := parseIDs(item.ContributionIDs)
	if err := contributions.Release(tx, cids, item.ID); err != nil {
		return false, err
	}
	if _, err := contributions.AdvanceDunning(tx, cids); err != nil {
		return false, err
	}
	return true, nil
}

// markProcessing keeps the claims; only reconciliation may end the item.
func markProcessing(tx *gorm.DB, itemID uint, ref, reason string) error {
	updates := map[string]any{"outcome": models.OutcomeProcessing, "failure_reason": clip(reason, 255)}
	if ref != "" {
		updates["processor_ref"] = ref
	}
	err := tx.Model(&models.CollectionItem{}).
		Where("id = ? AND outcome IN ?", itemID, openOutcomes).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark item %d processing: %w", itemID, err)
	}
	return nil
}

// refreshBatch recounts item outcomes and closes a reconciling batch once no
// item is open anymore.
func refreshBatch(tx *gorm.DB, batchID uint, at time.Time) (models.CollectionBatch, error) {
	var b models.CollectionBatch
	if err := tx.First(&b, batchID).Error; err != nil {
		return b, fmt.Errorf("load batch %d: %w", batchID, err)
	}
	var items []models.CollectionItem
	if err := tx.Where("batch_id = ?", batchID).Find(&items).Error; err != nil {
		return b, fmt.Errorf("load items of batch %d: %w", batchID, err)
	}

	counts := map[models.ItemOutcome]int{}
	total := decimal.Zero
	for _, it := range items {
		counts[it.Outcome]++
		total = total.Add(it.Amount)
	}
	err := tx.Model(&models.CollectionBatch{}).Where("id = ?", b.ID).Updates(map[string]any{
		"item_count":   len(items),
		"total_amount": total,
		"succeeded":    counts[models.OutcomeSucceeded],
		"processing":   counts[models.OutcomeProcessing] + counts[models.OutcomePending],
		"failed":       counts[models.OutcomeFailed],
		"skipped":      counts[models.OutcomeSkipped],
	}).Error
	if err != nil {
		return b, fmt.Errorf("update batch %d counts: %w", batchID, err)
	}
	b.ItemCount = len(items)
	b.TotalAmount = total
	b.Succeeded = counts[models.OutcomeSucceeded]
	b.Processing = counts[models.OutcomeProcessing] + counts[models.OutcomePending]
	b.Failed = counts[models.OutcomeFailed]
	b.Skipped = counts[models.OutcomeSkipped]

	if b.Status == models.BatchReconciling && b.Processing == 0 {
		if err := moveBatch(tx, &b, models.BatchClosed, at); err != nil {
			return b, err
		}
	}
	return b, nil
}
