package contributions

import (
	"fmt"
	"time"

	"dojo-backend/internal/models"

	"gorm.io/gorm"
)

// Claim marks one unpaid, unclaimed contribution as held by a collection
// item. It reports false when the row was paid or claimed by someone else.
func Claim(tx *gorm.DB, contributionID, itemID uint) (bool, error) {
	res := tx.Model(&models.Contribution{}).
		Where("id = ? AND paid = ? AND pending_item_id IS NULL", contributionID, false).
		Update("pending_item_id", itemID)
	if res.Error != nil {
		return false, fmt.Errorf("claim contribution %d: %w", contributionID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Release drops the claims an item holds.
func Release(tx *gorm.DB, ids []uint, itemID uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := tx.Model(&models.Contribution{}).
		Where("id IN ? AND pending_item_id = ?", ids, itemID).
		Update("pending_item_id", nil).Error
	if err != nil {
		return fmt.Errorf("release contributions: %w", err)
	}
	return nil
}

// SettleClaimed marks the contributions held by itemID as paid and returns the
// rows that changed. Rows no longer held by the item are left alone.
func SettleClaimed(tx *gorm.DB, ids []uint, itemID uint, at time.Time) ([]models.Contribution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var held []models.Contribution
	if err := tx.Where("id IN ? AND pending_item_id = ? AND paid = ?", ids, itemID, false).Find(&held).Error; err != nil {
		return nil, fmt.Errorf("load claimed contributions: %w", err)
	}

	settled := make([]models.Contribution, 0, len(held))
	for _, c := range held {
		res := tx.Model(&models.Contribution{}).
			Where("id = ? AND pending_item_id = ? AND paid = ?", c.ID, itemID, false).
			Updates(map[string]any{"paid": true, "paid_at": at, "pending_item_id": nil})
		if res.Error != nil {
			return nil, fmt.Errorf("settle contribution %d: %w", c.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			c.Paid = true
			c.PaidAt = &at
			c.PendingItemID = nil
			settled = append(settled, c)
		}
	}
	return settled, nil
}

// AdvanceDunning raises the dunning stage of unpaid contributions by one.
func AdvanceDunning(tx *gorm.DB, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.Contribution{}).
		Where("id IN ? AND paid = ?", ids, false).
		Update("dunning_stage", gorm.Expr("dunning_stage + 1"))
	if res.Error != nil {
		return 0, fmt.Errorf("advance dunning: %w", res.Error)
	}
	return res.RowsAffected, nil
}
