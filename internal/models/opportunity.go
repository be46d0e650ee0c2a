package models

import "time"

// Opportunity mirrors one CRM opportunity for fast board reads. StageName is
// the CRM's own stage as of the last refresh; the display path maps it to a
// super stage and applies any StageOverride on top.
type Opportunity struct {
	RecordID      string `gorm:"primaryKey;size:64"`
	TenantKey     string `gorm:"size:64;not null;index"`
	Name          string `gorm:"size:256"`
	ContactName   string `gorm:"size:256"`
	MonetaryValue float64
	StageName     string `gorm:"size:128"`
	UpdatedAt     time.Time
}
