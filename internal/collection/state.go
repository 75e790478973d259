// Package collection runs direct-debit collection batches: preview of the
// payable set, bank file export, live processor execution and reconciliation.
package collection

import (
	"fmt"

	"dojo-backend/internal/models"
)

var transitions = map[models.BatchStatus][]models.BatchStatus{
	models.BatchBuilding:    {models.BatchPreviewing},
	models.BatchPreviewing:  {models.BatchExporting, models.BatchExecuting},
	models.BatchExporting:   {models.BatchReconciling, models.BatchClosed},
	models.BatchExecuting:   {models.BatchReconciling},
	models.BatchReconciling: {models.BatchClosed},
}

// Advance checks a batch status transition.
func Advance(from, to models.BatchStatus) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("batch cannot move from %s to %s", from, to)
}
