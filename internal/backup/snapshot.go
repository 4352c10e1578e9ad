// Package backup exports and restores whole-database snapshots through the
// backup bucket.
package backup

import (
	"encoding/json"
	"fmt"

	"github.com/munilegis/legis/internal/records"
)

// FormatVersion is the snapshot schema version written by Export. Restore
// accepts this version and older; newer snapshots are refused rather than
// merged partially.
const FormatVersion = 1

// Table names in snapshot files, in the order Restore merges them. Profiles
// land before the tables that reference them, sessions before their agenda
// join rows.
var restoreOrder = []string{
	"users",
	"sessions",
	"documents",
	"session_documents",
	"notifications_queue",
	"activity_logs",
}

// Snapshot is the on-disk backup document. Table keys mirror the database
// table names so a snapshot reads as a dump of the schema.
type Snapshot struct {
	FormatVersion int    `json:"format_version"`
	CreatedAt     string `json:"created_at"`

	Users         []records.User               `json:"users"`
	Sessions      []records.Session            `json:"sessions"`
	Documents     []records.Document           `json:"documents"`
	Agendas       []records.Agenda             `json:"session_documents"`
	Notifications []records.QueuedNotification `json:"notifications_queue"`
	ActivityLogs  []records.ActivityLog        `json:"activity_logs"`
}

// decodeSnapshot parses raw snapshot bytes. Snapshots written before the
// format_version field carry an implicit version zero and remain readable.
// Tables that are absent or not arrays decode to nil slices and are skipped
// during the merge.
func decodeSnapshot(raw []byte) (Snapshot, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Snapshot{}, fmt.Errorf("backup: snapshot is not a JSON object: %w", err)
	}

	var snapshot Snapshot
	if versionRaw, ok := envelope["format_version"]; ok {
		if err := json.Unmarshal(versionRaw, &snapshot.FormatVersion); err != nil {
			return Snapshot{}, fmt.Errorf("backup: unreadable format_version: %w", err)
		}
	}
	if snapshot.FormatVersion > FormatVersion {
		return Snapshot{}, fmt.Errorf("backup: snapshot format version %d is newer than supported version %d",
			snapshot.FormatVersion, FormatVersion)
	}

	decodeTable(envelope, "users", &snapshot.Users)
	decodeTable(envelope, "sessions", &snapshot.Sessions)
	decodeTable(envelope, "documents", &snapshot.Documents)
	decodeTable(envelope, "session_documents", &snapshot.Agendas)
	decodeTable(envelope, "notifications_queue", &snapshot.Notifications)
	decodeTable(envelope, "activity_logs", &snapshot.ActivityLogs)
	return snapshot, nil
}

// decodeTable fills dst when the key holds a well-formed array and leaves it
// nil otherwise. A malformed table is treated the same as an absent one.
func decodeTable[T any](envelope map[string]json.RawMessage, key string, dst *[]T) {
	raw, ok := envelope[key]
	if !ok {
		return
	}
	var rows []T
	if err := json.Unmarshal(raw, &rows); err != nil {
		return
	}
	*dst = rows
}
