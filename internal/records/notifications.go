package records

import (
	"context"

	"go.uber.org/zap"
)

const (
	opNotificationsNew    = "records.notifications.new"
	opNotificationsRecord = "records.notifications.record"
	opNotificationsList   = "records.notifications.list"
)

// Delivery states journaled for queued notifications.
const (
	NotificationStatusSent   = "sent"
	NotificationStatusFailed = "failed"
)

// NotificationJournal records every attempted outbound message in the
// notifications_queue table so operators can audit deliveries and failures.
type NotificationJournal struct {
	core
}

// NewNotificationJournal constructs the journal.
func NewNotificationJournal(cfg ServiceConfig) (*NotificationJournal, error) {
	base, err := newCore(cfg, opNotificationsNew)
	if err != nil {
		return nil, err
	}
	return &NotificationJournal{core: base}, nil
}

// Record appends one delivery attempt. Failures are logged and returned but
// callers in the notification path are expected to absorb them.
func (j *NotificationJournal) Record(ctx context.Context, recipient, subject, body, status string) error {
	id, err := j.ids.NewID()
	if err != nil {
		j.logError(opNotificationsRecord, "id_generation_failed", err)
		return newServiceError(opNotificationsRecord, "id_generation_failed", err)
	}
	row := QueuedNotification{
		ID:        id,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    status,
		CreatedAt: j.clock().UTC(),
	}
	if err := j.db.WithContext(ctx).Create(&row).Error; err != nil {
		j.logError(opNotificationsRecord, "insert_failed", err, zap.String("recipient", recipient))
		return newServiceError(opNotificationsRecord, "insert_failed", err)
	}
	return nil
}

// List returns the journal, most recent first.
func (j *NotificationJournal) List(ctx context.Context) ([]QueuedNotification, error) {
	var rows []QueuedNotification
	if err := j.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		j.logError(opNotificationsList, "query_failed", err)
		return nil, newServiceError(opNotificationsList, "query_failed", err)
	}
	return rows, nil
}
