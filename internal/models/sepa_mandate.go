package models

import "time"

type MandateStatus string

const (
	MandateActive  MandateStatus = "active"
	MandateRevoked MandateStatus = "revoked"
)

// SepaMandate is never deleted; revocation and archival are status changes.
// The partial unique index allows one active mandate per member.
type SepaMandate struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	DojoID        uint          `gorm:"index;not null" json:"dojo_id"`
	MemberID      uint          `gorm:"not null;index;uniqueIndex:ux_mandate_active_member,where:status = 'active'" json:"member_id"`
	Reference     string        `gorm:"size:35;not null;uniqueIndex" json:"reference"`
	CreditorID    string        `gorm:"size:35;not null" json:"creditor_id"`
	IBAN          string        `gorm:"size:34;not null" json:"iban"`
	BIC           string        `gorm:"size:11" json:"bic"`
	Holder        string        `gorm:"size:140;not null" json:"holder"`
	Status        MandateStatus `gorm:"size:20;not null;index" json:"status"`
	SignedAt      time.Time     `gorm:"not null" json:"signed_at"`
	RevokedAt     *time.Time    `json:"revoked_at"`
	RevokeReason  string        `gorm:"size:255" json:"revoke_reason"`
	ArchivedAt    *time.Time    `json:"archived_at"`
	ArchiveReason string        `gorm:"size:255" json:"archive_reason"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
