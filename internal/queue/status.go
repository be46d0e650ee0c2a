package queue

import (
	"fmt"
	"time"

	"github.com/clinicops/dealsync/internal/models"
)

// SyncStatus is the aggregate the dashboard's indicator renders. State is a
// strict precedence, not a score: one failed move turns it failed regardless
// of how many have synced.
type SyncStatus struct {
	State        string     `json:"state"`
	PendingCount int64      `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Status summarizes queue contents: failed if any failed row exists, else
// pending if any pending row exists, else synced. PendingCount includes
// failed rows since both represent not-yet-applied changes.
func (s *Store) Status() (*SyncStatus, error) {
	type row struct {
		Status string
		Count  int64
	}
	var rows []row
	err := s.db.Model(&models.PendingMove{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("queue: status counts: %w", err)
	}

	var pending, failed int64
	for _, r := range rows {
		switch r.Status {
		case models.MoveStatusPending:
			pending = r.Count
		case models.MoveStatusFailed:
			failed = r.Count
		}
	}

	st := &SyncStatus{
		State:        models.MoveStatusSynced,
		PendingCount: pending + failed,
	}
	switch {
	case failed > 0:
		st.State = models.MoveStatusFailed
	case pending > 0:
		st.State = models.MoveStatusPending
	}

	var last models.PendingMove
	if err := s.db.Where("synced_at IS NOT NULL").Order("synced_at DESC").First(&last).Error; err == nil {
		st.LastSyncAt = last.SyncedAt
	}

	var errored models.PendingMove
	if err := s.db.Where("last_error IS NOT NULL AND status IN ?",
		[]string{models.MoveStatusPending, models.MoveStatusFailed}).
		Order("created_at DESC").First(&errored).Error; err == nil && errored.LastError != nil {
		st.LastError = *errored.LastError
	}

	return st, nil
}
