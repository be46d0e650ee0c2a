package db

import (
	"fmt"

	"github.com/clinicops/dealsync/internal/models"
	"gorm.io/gorm"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.PendingMove{},
		&models.StageOverride{},
		&models.TokenRecord{},
		&models.Opportunity{},
	}
}

// AutoMigrate creates or updates all dealsync tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
