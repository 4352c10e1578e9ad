package records

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"
)

type activityDiff struct {
	Before any `json:"before,omitempty"`
	After  any `json:"after,omitempty"`
}

// recordActivity appends one audit row inside the caller's transaction so the
// trail commits atomically with the mutation it describes.
func (c *core) recordActivity(ctx context.Context, tx *gorm.DB, table, operation, recordID string, before, after any) error {
	id, err := c.ids.NewID()
	if err != nil {
		return err
	}
	diff, err := json.Marshal(activityDiff{Before: before, After: after})
	if err != nil {
		return err
	}
	entry := ActivityLog{
		ID:          id,
		Table:       table,
		Operation:   operation,
		RecordID:    recordID,
		ChangedData: diff,
		PerformedBy: actorFrom(ctx),
		PerformedAt: c.clock().UTC(),
	}
	return tx.Create(&entry).Error
}

const opListActivity = "records.activity.list"

// ActivityService exposes the append-only audit trail, read-only.
type ActivityService struct {
	core
}

// NewActivityService constructs the activity log reader.
func NewActivityService(cfg ServiceConfig) (*ActivityService, error) {
	base, err := newCore(cfg, opListActivity)
	if err != nil {
		return nil, err
	}
	return &ActivityService{core: base}, nil
}

// List returns all activity log rows, most recent first.
func (s *ActivityService) List(ctx context.Context) ([]ActivityLog, error) {
	var logs []ActivityLog
	if err := s.db.WithContext(ctx).
		Order("performed_at DESC").
		Find(&logs).Error; err != nil {
		s.logError(opListActivity, "query_failed", err)
		return nil, newServiceError(opListActivity, "query_failed", err)
	}
	return logs, nil
}
