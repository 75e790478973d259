package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProcessorEvent stores inbound processor notifications, deduplicated by
// (provider, provider event id).
type ProcessorEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"size:20;not null;uniqueIndex:ux_processor_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"size:191;not null;uniqueIndex:ux_processor_event,priority:2" json:"provider_event_id"`
	Reference       string         `gorm:"size:100;not null;index" json:"reference"`
	Outcome         ItemOutcome    `gorm:"size:20;not null" json:"outcome"`
	FailureReason   string         `gorm:"size:255" json:"failure_reason"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time      `json:"created_at"`
}
