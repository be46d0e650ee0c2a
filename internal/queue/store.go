// Package queue persists stage-move and field-update requests and tracks
// their sync lifecycle. The store is the single source of truth for sync
// state; the board's override side-table keeps the UI ahead of the CRM.
package queue

import (
	"fmt"
	"time"

	"github.com/clinicops/dealsync/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store reads and mutates the pending_moves table.
type Store struct {
	db          *gorm.DB
	maxAttempts int
}

// NewStore returns a Store enforcing the given retry ceiling.
func NewStore(db *gorm.DB, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Store{db: db, maxAttempts: maxAttempts}
}

// MaxAttempts returns the retry ceiling.
func (s *Store) MaxAttempts() int {
	return s.maxAttempts
}

// EnqueueStageMove inserts a new pending stage move and returns its id.
// Moves are never deduplicated: if a record is dragged twice, both rows are
// processed in order and the later target wins.
func (s *Store) EnqueueStageMove(tenantKey, recordID, fromStage, toSuperStage string) (string, error) {
	move := models.PendingMove{
		ID:        uuid.NewString(),
		Kind:      models.MoveKindStage,
		TenantKey: tenantKey,
		RecordID:  recordID,
		FromStage: fromStage,
		ToStage:   toSuperStage,
		Status:    models.MoveStatusPending,
	}
	if err := s.db.Create(&move).Error; err != nil {
		return "", fmt.Errorf("queue: enqueue stage move for %s: %w", recordID, err)
	}
	return move.ID, nil
}

// EnqueueFieldUpdate inserts a new pending contact-field update and returns
// its id. Field updates share the queue, retry ceiling, and status lifecycle
// with stage moves.
func (s *Store) EnqueueFieldUpdate(tenantKey, recordID, fieldID, value string) (string, error) {
	move := models.PendingMove{
		ID:         uuid.NewString(),
		Kind:       models.MoveKindField,
		TenantKey:  tenantKey,
		RecordID:   recordID,
		FieldID:    fieldID,
		FieldValue: value,
		Status:     models.MoveStatusPending,
	}
	if err := s.db.Create(&move).Error; err != nil {
		return "", fmt.Errorf("queue: enqueue field update for %s: %w", recordID, err)
	}
	return move.ID, nil
}

// ClaimBatch returns up to limit unsynced moves, oldest first. Both pending
// and failed rows below the attempts ceiling are returned; rows at the
// ceiling stay failed until an operator resets them. There is no leasing:
// the processor runs single-flight by design.
func (s *Store) ClaimBatch(limit int) ([]models.PendingMove, error) {
	var moves []models.PendingMove
	err := s.db.
		Where("status IN ? AND attempts < ?", []string{models.MoveStatusPending, models.MoveStatusFailed}, s.maxAttempts).
		Order("created_at ASC").
		Limit(limit).
		Find(&moves).Error
	if err != nil {
		return nil, fmt.Errorf("queue: claim batch: %w", err)
	}
	return moves, nil
}

// MarkSynced records a successful sync. Synced is terminal.
func (s *Store) MarkSynced(id string) error {
	now := time.Now()
	err := s.db.Model(&models.PendingMove{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     models.MoveStatusSynced,
			"synced_at":  now,
			"last_error": nil,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: mark synced %s: %w", id, err)
	}
	return nil
}

// MarkFailed records a failed attempt. Below the ceiling the move stays
// pending so the next run retries it; at the ceiling it becomes sticky
// failed and waits for operator intervention.
func (s *Store) MarkFailed(id string, attempts int, cause string) error {
	status := models.MoveStatusPending
	if attempts >= s.maxAttempts {
		status = models.MoveStatusFailed
	}
	err := s.db.Model(&models.PendingMove{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"attempts":   attempts,
			"last_error": cause,
		}).Error
	if err != nil {
		return fmt.Errorf("queue: mark failed %s: %w", id, err)
	}
	return nil
}

// ResetFailed flips every failed move back to pending with attempts zeroed,
// for retry from scratch. Returns the number of rows reset.
func (s *Store) ResetFailed() (int64, error) {
	result := s.db.Model(&models.PendingMove{}).
		Where("status = ?", models.MoveStatusFailed).
		Updates(map[string]interface{}{
			"status":     models.MoveStatusPending,
			"attempts":   0,
			"last_error": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: reset failed moves: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeFailed deletes every failed move. Returns the number of rows deleted.
func (s *Store) PurgeFailed() (int64, error) {
	result := s.db.Where("status = ?", models.MoveStatusFailed).Delete(&models.PendingMove{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: purge failed moves: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeFieldUpdates deletes every field-update move regardless of status.
// Exists because some credentials lack the contact-write scope, leaving
// those moves permanently unprocessable.
func (s *Store) PurgeFieldUpdates() (int64, error) {
	result := s.db.Where("kind = ?", models.MoveKindField).Delete(&models.PendingMove{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: purge field updates: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Remaining counts moves still awaiting a successful sync: pending rows plus
// retryable failed rows.
func (s *Store) Remaining() (int64, error) {
	var n int64
	err := s.db.Model(&models.PendingMove{}).
		Where("status IN ?", []string{models.MoveStatusPending, models.MoveStatusFailed}).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("queue: count remaining: %w", err)
	}
	return n, nil
}

// List returns moves filtered by status (all statuses when status is empty),
// newest first, for operator inspection.
func (s *Store) List(status string, limit int) ([]models.PendingMove, error) {
	q := s.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var moves []models.PendingMove
	if err := q.Find(&moves).Error; err != nil {
		return nil, fmt.Errorf("queue: list moves: %w", err)
	}
	return moves, nil
}
