package models

import "time"

// Move kinds. A queued request is either a pipeline stage move or a CRM
// contact field update; both share one queue, one retry mechanism, and one
// status lifecycle, distinguished by Kind.
const (
	MoveKindStage = "stage"
	MoveKindField = "field"
)

// Move statuses.
const (
	MoveStatusPending = "pending"
	MoveStatusSynced  = "synced"
	MoveStatusFailed  = "failed"
)

// PendingMove is a queued request to propagate a local change to the CRM.
type PendingMove struct {
	ID        string `gorm:"primaryKey;size:36"`
	Kind      string `gorm:"size:16;default:stage;index"`
	TenantKey string `gorm:"size:64;not null;index"`
	RecordID  string `gorm:"size:64;not null;index"`

	// Stage move fields (Kind == stage).
	FromStage string `gorm:"size:128"`
	ToStage   string `gorm:"size:64"`

	// Field update fields (Kind == field).
	FieldID    string `gorm:"size:64"`
	FieldValue string `gorm:"type:text"`

	Status    string  `gorm:"size:16;default:pending;index"`
	Attempts  int     `gorm:"default:0"`
	LastError *string `gorm:"type:text"`
	CreatedAt time.Time
	SyncedAt  *time.Time
}
