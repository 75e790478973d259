package tenant

import (
	"context"
	"errors"
	"fmt"

	"dojo-backend/internal/apperr"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Find loads the row with the given id inside the scope. Rows of other dojos
// and missing rows both yield apperr.ErrNotFound; which one it was is only logged.
func Find[T any](ctx context.Context, db *gorm.DB, log *zap.Logger, s Scope, id uint, dest *T) error {
	err := s.Apply(db.WithContext(ctx).Model(dest), "dojo_id").First(dest, id).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find %T %d: %w", dest, id, err)
	}

	if !s.All() {
		var n int64
		var other T
		if cerr := db.WithContext(ctx).Model(&other).Where("id = ?", id).Count(&n).Error; cerr == nil && n > 0 {
			dojo, _ := s.DojoID()
			log.Warn("scoped lookup hit a row of another dojo",
				zap.String("entity", fmt.Sprintf("%T", other)),
				zap.Uint("id", id),
				zap.Uint("scope_dojo_id", dojo),
			)
		}
	}
	return apperr.ErrNotFound
}
