package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"dojo-backend/internal/apperr"
	"dojo-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Locker grants one running batch per (dojo, period, channel). The in-process
// map catches runs of this process, the collection_locks row those of others.
type Locker struct {
	db  *gorm.DB
	log *zap.Logger
	ttl time.Duration

	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocker(db *gorm.DB, log *zap.Logger, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{db: db, log: log, ttl: ttl, held: map[string]struct{}{}}
}

func lockKey(dojoID uint, period string, ch models.BatchChannel) string {
	return fmt.Sprintf("%d/%s/%s", dojoID, period, ch)
}

// Acquire fails fast with apperr.ErrBatchRunning when the key is taken.
// Expired rows left by a crashed process are cleared first.
func (l *Locker) Acquire(ctx context.Context, dojoID uint, period string, ch models.BatchChannel) (func(), error) {
	key := lockKey(dojoID, period, ch)

	l.mu.Lock()
	if _, busy := l.held[key]; busy {
		l.mu.Unlock()
		return nil, apperr.ErrBatchRunning
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	forget := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	now := time.Now().UTC()
	db := l.db.WithContext(ctx)
	if err := db.Where("dojo_id = ? AND period = ? AND channel = ? AND expires_at < ?", dojoID, period, ch, now).
		Delete(&models.CollectionLock{}).Error; err != nil {
		forget()
		return nil, fmt.Errorf("clear expired lock: %w", err)
	}

	row := models.CollectionLock{
		DojoID:    dojoID,
		Period:    period,
		Channel:   ch,
		Holder:    uuid.NewString(),
		ExpiresAt: now.Add(l.ttl),
	}
	if err := db.Create(&row).Error; err != nil {
		forget()
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.ErrBatchRunning
		}
		return nil, fmt.Errorf("take collection lock: %w", err)
	}

	release := func() {
		ctx := context.WithoutCancel(ctx)
		if err := l.db.WithContext(ctx).Where("id = ? AND holder = ?", row.ID, row.Holder).Delete(&models.CollectionLock{}).Error; err != nil {
			l.log.Error("release collection lock", zap.String("key", key), zap.Error(err))
		}
		forget()
	}
	return release, nil
}
