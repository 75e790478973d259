package models

import (
	"time"

	"gorm.io/datatypes"
)

type AuditAction string

const (
	AuditActionCreate           AuditAction = "create"
	AuditActionUpdate           AuditAction = "update"
	AuditActionDelete           AuditAction = "delete"
	AuditActionArchive          AuditAction = "archive"
	AuditActionRevoke           AuditAction = "revoke"
	AuditActionGenerate         AuditAction = "generate"
	AuditActionExport           AuditAction = "export"
	AuditActionExecute          AuditAction = "execute"
	AuditActionSettle           AuditAction = "settle"
	AuditActionCrossTenant      AuditAction = "cross_tenant_attempt"
	AuditActionReconcile        AuditAction = "reconcile"
	AuditActionInvoiceAllocated AuditAction = "invoice_allocated"
)

// AuditLog is append-only. Nothing in the application updates or deletes rows.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	DojoID *uint `gorm:"index" json:"dojo_id"`

	ActorID    uint     `json:"actor_id"`
	ActorEmail string   `gorm:"size:100" json:"actor_email"`
	ActorRole  UserRole `gorm:"size:20" json:"actor_role"`

	Action     AuditAction `gorm:"size:40;index" json:"action"`
	EntityType string      `gorm:"size:50;index" json:"entity_type"`
	EntityID   uint        `gorm:"index" json:"entity_id"`

	Description string `gorm:"size:255" json:"description"`

	BeforeData datatypes.JSON `gorm:"type:jsonb" json:"before_data"`
	AfterData  datatypes.JSON `gorm:"type:jsonb" json:"after_data"`

	IP     string `gorm:"size:64" json:"ip"`
	Path   string `gorm:"size:255" json:"path"`
	Method string `gorm:"size:10" json:"method"`
}
