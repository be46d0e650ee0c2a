package models

import "time"

// StageOverride records the user's most recent stage choice for a record.
// It is consulted ahead of the CRM's reported stage so the board never
// regresses a move that hasn't synced yet. At most one row per record.
type StageOverride struct {
	RecordID   string `gorm:"primaryKey;size:64"`
	SuperStage string `gorm:"size:64;not null"`
	UpdatedAt  time.Time
}
