package feed

import (
	"encoding/json"
	"time"
)

// EventType enumerates row-level change notifications.
type EventType string

const (
	// EventInsert signals a newly committed row.
	EventInsert EventType = "INSERT"
	// EventUpdate signals a committed in-place change.
	EventUpdate EventType = "UPDATE"
	// EventDelete signals a committed removal.
	EventDelete EventType = "DELETE"
)

// Event describes one committed row change on a watched table. New carries the
// row after the change (INSERT/UPDATE), Old the row before it (UPDATE/DELETE).
type Event struct {
	Table      string          `json:"table"`
	Type       EventType       `json:"eventType"`
	RecordID   string          `json:"record_id"`
	New        json.RawMessage `json:"new,omitempty"`
	Old        json.RawMessage `json:"old,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}
