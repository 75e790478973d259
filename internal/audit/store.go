package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"dojo-backend/internal/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store persists audit rows. It only inserts and reads.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Insert(ctx context.Context, ev Event) error {
	row := models.AuditLog{
		CreatedAt:   ev.At,
		DojoID:      ev.DojoID,
		ActorID:     ev.Actor.ID,
		ActorEmail:  ev.Actor.Email,
		ActorRole:   ev.Actor.Role,
		Action:      ev.Action,
		EntityType:  ev.EntityType,
		EntityID:    ev.EntityID,
		Description: truncate(ev.Description, 255),
		BeforeData:  snapshot(ev.Before),
		AfterData:   snapshot(ev.After),
		IP:          ev.Actor.IP,
		Path:        truncate(ev.Actor.Path, 255),
		Method:      ev.Actor.Method,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// Filter narrows List. The dojo restriction is applied by the caller through
// its resolved scope.
type Filter struct {
	EntityType string
	EntityID   uint
	ActorID    uint
	Action     models.AuditAction
	Limit      int
}

func (s *Store) List(ctx context.Context, q *gorm.DB, f Filter) ([]models.AuditLog, error) {
	q = q.WithContext(ctx).Model(&models.AuditLog{})
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID > 0 {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID > 0 {
		q = q.Where("actor_id = ?", f.ActorID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var rows []models.AuditLog
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return rows, nil
}

// DB exposes the handle so callers can scope queries before List.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// snapshot stores nil as JSON null, which jsonb accepts.
func snapshot(v any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("null")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(b)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
