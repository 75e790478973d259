package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BatchStatus string

const (
	BatchBuilding    BatchStatus = "building"
	BatchPreviewing  BatchStatus = "previewing"
	BatchExporting   BatchStatus = "exporting"
	BatchExecuting   BatchStatus = "executing"
	BatchReconciling BatchStatus = "reconciling"
	BatchClosed      BatchStatus = "closed"
)

type BatchChannel string

const (
	ChannelFileExport    BatchChannel = "file_export"
	ChannelLiveProcessor BatchChannel = "live_processor"
)

type ItemOutcome string

const (
	OutcomePending    ItemOutcome = "pending"
	OutcomeSucceeded  ItemOutcome = "succeeded"
	OutcomeProcessing ItemOutcome = "processing"
	OutcomeFailed     ItemOutcome = "failed"
	OutcomeSkipped    ItemOutcome = "skipped"
)

// Terminal reports whether only an administrative action could still change the outcome.
func (o ItemOutcome) Terminal() bool {
	return o == OutcomeSucceeded || o == OutcomeFailed || o == OutcomeSkipped
}

// CollectionBatch (Lastschriftlauf) is one run of the engine for a dojo and period.
type CollectionBatch struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	DojoID          uint            `gorm:"index;not null" json:"dojo_id"`
	Reference       string          `gorm:"size:36;not null;uniqueIndex" json:"reference"`
	Period          string          `gorm:"size:7;not null;index" json:"period"`
	WindowFrom      time.Time       `gorm:"not null" json:"window_from"`
	WindowTo        time.Time       `gorm:"not null" json:"window_to"`
	Channel         BatchChannel    `gorm:"size:20;not null" json:"channel"`
	Format          string          `gorm:"size:10" json:"format"`
	CreditorAccount *uint           `json:"creditor_account_id"`
	Status          BatchStatus     `gorm:"size:20;not null" json:"status"`
	TotalAmount     decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_amount"`
	ItemCount       int             `gorm:"not null;default:0" json:"item_count"`
	Succeeded       int             `gorm:"not null;default:0" json:"succeeded"`
	Processing      int             `gorm:"not null;default:0" json:"processing"`
	Failed          int             `gorm:"not null;default:0" json:"failed"`
	Skipped         int             `gorm:"not null;default:0" json:"skipped"`
	CreatedBy       uint            `json:"created_by"`
	ExecutedAt      *time.Time      `json:"executed_at"`
	ClosedAt        *time.Time      `json:"closed_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Items []CollectionItem `gorm:"foreignKey:BatchID" json:"items,omitempty"`
}

// CollectionItem records what was attempted for one member within a batch.
type CollectionItem struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	BatchID         uint            `gorm:"index;not null" json:"batch_id"`
	DojoID          uint            `gorm:"index;not null" json:"dojo_id"`
	MemberID        uint            `gorm:"index;not null" json:"member_id"`
	MandateID       *uint           `json:"mandate_id"`
	Amount          decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"amount"`
	ContributionIDs string          `gorm:"size:1000" json:"contribution_ids"` // comma separated
	IdempotencyKey  string          `gorm:"size:36;uniqueIndex" json:"idempotency_key"`
	Outcome         ItemOutcome     `gorm:"size:20;not null;index" json:"outcome"`
	ProcessorRef    string          `gorm:"size:100;index" json:"processor_ref"`
	FailureReason   string          `gorm:"size:255" json:"failure_reason"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CollectionLock is the in-flight marker of a running live batch.
type CollectionLock struct {
	ID        uint         `gorm:"primaryKey"`
	DojoID    uint         `gorm:"not null;uniqueIndex:ux_collection_lock,priority:1"`
	Period    string       `gorm:"size:7;not null;uniqueIndex:ux_collection_lock,priority:2"`
	Channel   BatchChannel `gorm:"size:20;not null;uniqueIndex:ux_collection_lock,priority:3"`
	Holder    string       `gorm:"size:36;not null"`
	ExpiresAt time.Time    `gorm:"not null"`
	CreatedAt time.Time
}
