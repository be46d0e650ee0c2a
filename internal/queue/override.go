package queue

import (
	"errors"
	"fmt"

	"github.com/clinicops/dealsync/internal/models"
	"github.com/clinicops/dealsync/internal/stage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Overrides is the side-table of locally authoritative stage choices. An
// override is written before its move is queued, so a refresh mid-flight
// still shows the new stage, and cleared once the CRM confirms the move.
type Overrides struct {
	db *gorm.DB
}

// NewOverrides returns an Overrides backed by the given store.
func NewOverrides(db *gorm.DB) *Overrides {
	return &Overrides{db: db}
}

// Upsert records the user's stage choice for a record, replacing any
// previous override.
func (o *Overrides) Upsert(recordID, superStage string) error {
	row := models.StageOverride{RecordID: recordID, SuperStage: superStage}
	err := o.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "record_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"super_stage", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("queue: upsert override for %s: %w", recordID, err)
	}
	return nil
}

// Clear removes the override for a record. Called when the CRM now reflects
// the same stage, making the override redundant.
func (o *Overrides) Clear(recordID string) error {
	if err := o.db.Delete(&models.StageOverride{}, "record_id = ?", recordID).Error; err != nil {
		return fmt.Errorf("queue: clear override for %s: %w", recordID, err)
	}
	return nil
}

// Get returns the override super stage for a record, or "" when none exists.
func (o *Overrides) Get(recordID string) (string, error) {
	var row models.StageOverride
	err := o.db.First(&row, "record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: get override for %s: %w", recordID, err)
	}
	return row.SuperStage, nil
}

// EffectiveStage resolves the stage to display for a record: the override if
// one exists, else the super stage mapped from the CRM's last-synced stage
// name. Returns "" when the record is unknown or its CRM stage is out of
// scope.
func (o *Overrides) EffectiveStage(recordID string) (string, error) {
	if super, err := o.Get(recordID); err != nil {
		return "", err
	} else if super != "" {
		return super, nil
	}

	var opp models.Opportunity
	err := o.db.First(&opp, "record_id = ?", recordID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("queue: load opportunity %s: %w", recordID, err)
	}
	return stage.Resolve(opp.StageName), nil
}
