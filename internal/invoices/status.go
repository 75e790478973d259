package invoices

import (
	"errors"
	"fmt"
	"time"

	"dojo-backend/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StatusFor derives the invoice status from the amount paid against its total.
func StatusFor(paid, total decimal.Decimal) models.InvoiceStatus {
	switch {
	case !paid.IsPositive():
		return models.InvoiceOpen
	case paid.LessThan(total):
		return models.InvoicePartiallyPaid
	default:
		return models.InvoicePaid
	}
}

// syncStatus recomputes and stores the status of one invoice inside tx.
func syncStatus(tx *gorm.DB, invoiceID uint) (models.InvoiceStatus, error) {
	var inv models.Invoice
	if err := tx.Select("id", "gross", "status").First(&inv, invoiceID).Error; err != nil {
		return "", fmt.Errorf("load invoice %d: %w", invoiceID, err)
	}

	var payments []models.Payment
	if err := tx.Where("invoice_id = ?", invoiceID).Find(&payments).Error; err != nil {
		return "", fmt.Errorf("load payments of invoice %d: %w", invoiceID, err)
	}
	paid := decimal.Zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}

	status := StatusFor(paid, inv.Gross)
	if status != inv.Status {
		if err := tx.Model(&models.Invoice{}).Where("id = ?", invoiceID).Update("status", status).Error; err != nil {
			return "", fmt.Errorf("update invoice status: %w", err)
		}
	}
	return status, nil
}

// ApplyContributionPayment records the payment of a settled contribution on
// its invoice and refreshes the invoice status. It does nothing for
// contributions without invoice and is safe to repeat.
func ApplyContributionPayment(tx *gorm.DB, c models.Contribution, itemID *uint, method models.PaymentMethod, at time.Time) error {
	if c.InvoiceID == nil {
		return nil
	}
	cid := c.ID
	p := models.Payment{
		DojoID:           c.DojoID,
		InvoiceID:        *c.InvoiceID,
		ContributionID:   &cid,
		CollectionItemID: itemID,
		Amount:           c.Amount,
		Method:           method,
		PaidAt:           at,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return fmt.Errorf("record payment for contribution %d: %w", c.ID, err)
	}
	if _, err := syncStatus(tx, *c.InvoiceID); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return nil
}
