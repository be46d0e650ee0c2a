package models

import "time"

// TokenRecord is the persisted OAuth credential for one CRM company.
// The provider rotates refresh tokens: every refresh returns a new one and
// invalidates the old, so the stored value must be overwritten on every
// successful refresh.
type TokenRecord struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	TenantKey       string `gorm:"size:64;not null;uniqueIndex"`
	CompanyID       string `gorm:"size:64"`
	RefreshToken    string `gorm:"type:text"`
	AccessToken     string `gorm:"type:text"`
	AccessExpiresAt *time.Time
	NeedsReauth     bool `gorm:"default:false"`
	ReauthFlaggedAt *time.Time
	LastError       string `gorm:"type:text"`
	UpdatedAt       time.Time
}
