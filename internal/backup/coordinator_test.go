package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/munilegis/legis/internal/records"
	"github.com/munilegis/legis/internal/storage"
	"gorm.io/gorm"
)

type memObjectStore struct {
	objects map[string][]byte
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string][]byte)}
}

func (s *memObjectStore) key(bucket, path string) string {
	return bucket + "/" + path
}

func (s *memObjectStore) Upload(_ context.Context, bucket, path string, r io.Reader, overwrite bool) error {
	if _, exists := s.objects[s.key(bucket, path)]; exists && !overwrite {
		return storage.ErrObjectExists
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[s.key(bucket, path)] = data
	return nil
}

func (s *memObjectStore) Open(_ context.Context, bucket, path string) (io.ReadCloser, error) {
	data, ok := s.objects[s.key(bucket, path)]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memObjectStore) PublicURL(bucket, path string) string {
	return "http://localhost/files/" + bucket + "/" + path
}

func (s *memObjectStore) SignedURL(bucket, path string, _ time.Duration) (string, error) {
	return s.PublicURL(bucket, path) + "?token=test", nil
}

func (s *memObjectStore) Delete(_ context.Context, bucket, path string) error {
	if _, ok := s.objects[s.key(bucket, path)]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(s.objects, s.key(bucket, path))
	return nil
}

func (s *memObjectStore) List(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	var infos []storage.ObjectInfo
	for key, data := range s.objects {
		name := strings.TrimPrefix(key, bucket+"/")
		if name == key || !strings.HasPrefix(name, prefix) {
			continue
		}
		infos = append(infos, storage.ObjectInfo{Name: name, Size: int64(len(data))})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name > infos[j].Name })
	return infos, nil
}

func mustDatabase(testContext *testing.T) *gorm.DB {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "backup.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&records.User{}, &records.Session{}, &records.Document{},
		&records.Agenda{}, &records.QueuedNotification{}, &records.ActivityLog{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func mustCoordinator(testContext *testing.T, db *gorm.DB, objects storage.ObjectStore) *Coordinator {
	testContext.Helper()
	coordinator, err := NewCoordinator(Config{Database: db, Objects: objects})
	if err != nil {
		testContext.Fatalf("failed to build coordinator: %v", err)
	}
	return coordinator
}

func sampleSnapshot() Snapshot {
	now := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	venue := "Session Hall"
	return Snapshot{
		FormatVersion: FormatVersion,
		CreatedAt:     now.Format(time.RFC3339),
		Users: []records.User{{
			ID: "user-1", Firstname: "Ana", Lastname: "Reyes",
			Email: "ana@example.gov", Role: records.UserRoleSecretary, CreatedAt: now,
		}},
		Sessions: []records.Session{{
			ID: "session-1", ScheduledAt: now.Add(48 * time.Hour),
			Type: records.SessionTypeRegular, Status: records.SessionStatusScheduled,
			Venue: &venue, CreatedAt: now,
		}},
		Documents: []records.Document{{
			ID: "doc-1", Type: records.DocumentTypeOrdinance,
			Status: records.DocumentStatusApproved, Title: "Ordinance 42",
			AuthorName: "Ana Reyes", Series: "2026", CreatedAt: now,
		}},
		Agendas: []records.Agenda{{
			ID: "agenda-1", SessionID: "session-1", DocumentID: "doc-1", CreatedAt: now,
		}},
		Notifications: []records.QueuedNotification{{
			ID: "note-1", Recipient: "ana@example.gov", Subject: "s", Body: "b",
			Status: records.NotificationStatusSent, CreatedAt: now,
		}},
		ActivityLogs: []records.ActivityLog{{
			ID: "log-1", Table: "documents", Operation: "INSERT",
			RecordID: "doc-1", PerformedAt: now,
		}},
	}
}

func mustSnapshotJSON(testContext *testing.T, snapshot Snapshot) []byte {
	testContext.Helper()
	raw, err := json.Marshal(snapshot)
	if err != nil {
		testContext.Fatalf("failed to marshal snapshot: %v", err)
	}
	return raw
}

func countRows(testContext *testing.T, db *gorm.DB, model any) int64 {
	testContext.Helper()
	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count rows: %v", err)
	}
	return count
}

func TestRestorePopulatesEmptyDatabaseInOrder(testContext *testing.T) {
	db := mustDatabase(testContext)
	coordinator := mustCoordinator(testContext, db, newMemObjectStore())

	result := coordinator.Restore(context.Background(), mustSnapshotJSON(testContext, sampleSnapshot()))
	if !result.Success {
		testContext.Fatalf("expected successful restore, got %q", result.Message)
	}

	for _, model := range []any{
		&records.User{}, &records.Session{}, &records.Document{},
		&records.Agenda{}, &records.QueuedNotification{}, &records.ActivityLog{},
	} {
		if got := countRows(testContext, db, model); got != 1 {
			testContext.Fatalf("expected one row in %T, got %d", model, got)
		}
	}

	var agenda records.Agenda
	if err := db.Take(&agenda).Error; err != nil {
		testContext.Fatalf("failed to reload agenda: %v", err)
	}
	var session records.Session
	if err := db.Where("id = ?", agenda.SessionID).Take(&session).Error; err != nil {
		testContext.Fatalf("agenda references missing session: %v", err)
	}
}

func TestRestoreIsIdempotentAndOverwritesById(testContext *testing.T) {
	db := mustDatabase(testContext)
	coordinator := mustCoordinator(testContext, db, newMemObjectStore())
	snapshot := sampleSnapshot()

	if result := coordinator.Restore(context.Background(), mustSnapshotJSON(testContext, snapshot)); !result.Success {
		testContext.Fatalf("first restore failed: %q", result.Message)
	}

	snapshot.Documents[0].Title = "Ordinance 42 (amended)"
	if result := coordinator.Restore(context.Background(), mustSnapshotJSON(testContext, snapshot)); !result.Success {
		testContext.Fatalf("second restore failed: %q", result.Message)
	}

	if got := countRows(testContext, db, &records.Document{}); got != 1 {
		testContext.Fatalf("restore must upsert, not duplicate; got %d documents", got)
	}
	var document records.Document
	if err := db.Take(&document).Error; err != nil {
		testContext.Fatalf("failed to reload document: %v", err)
	}
	if document.Title != "Ordinance 42 (amended)" {
		testContext.Fatalf("expected snapshot values to win, got %q", document.Title)
	}
}

func TestRestoreReportsFailingTableAndKeepsEarlierMerges(testContext *testing.T) {
	db := mustDatabase(testContext)
	coordinator := mustCoordinator(testContext, db, newMemObjectStore())

	if err := db.Migrator().DropTable(&records.Document{}); err != nil {
		testContext.Fatalf("failed to drop table: %v", err)
	}

	result := coordinator.Restore(context.Background(), mustSnapshotJSON(testContext, sampleSnapshot()))
	if result.Success {
		testContext.Fatalf("expected restore to fail")
	}
	if !strings.HasPrefix(result.Message, "Error merging documents:") {
		testContext.Fatalf("expected failing table in message, got %q", result.Message)
	}
	if got := countRows(testContext, db, &records.User{}); got != 1 {
		testContext.Fatalf("tables merged before the failure must stay merged, got %d users", got)
	}
	if got := countRows(testContext, db, &records.Agenda{}); got != 0 {
		testContext.Fatalf("tables after the failure must stay untouched, got %d agendas", got)
	}
}

func TestRestoreRefusesNewerFormatVersion(testContext *testing.T) {
	db := mustDatabase(testContext)
	coordinator := mustCoordinator(testContext, db, newMemObjectStore())

	raw := []byte(fmt.Sprintf(`{"format_version": %d, "users": [{"id": "user-1"}]}`, FormatVersion+1))
	result := coordinator.Restore(context.Background(), raw)
	if result.Success {
		testContext.Fatalf("expected newer snapshot to be refused")
	}
	if got := countRows(testContext, db, &records.User{}); got != 0 {
		testContext.Fatalf("refused snapshot must not merge anything, got %d users", got)
	}
}

func TestRestoreSkipsAbsentAndMalformedTables(testContext *testing.T) {
	db := mustDatabase(testContext)
	coordinator := mustCoordinator(testContext, db, newMemObjectStore())

	raw := []byte(`{
		"users": "not an array",
		"sessions": [{"id": "session-1", "scheduled_at": "2026-09-01T10:00:00Z", "type": "regular", "status": "scheduled", "created_at": "2026-08-01T10:00:00Z"}]
	}`)
	result := coordinator.Restore(context.Background(), raw)
	if !result.Success {
		testContext.Fatalf("expected success with skipped tables, got %q", result.Message)
	}
	if got := countRows(testContext, db, &records.Session{}); got != 1 {
		testContext.Fatalf("expected sessions merged, got %d", got)
	}
	if got := countRows(testContext, db, &records.User{}); got != 0 {
		testContext.Fatalf("malformed users table must be skipped, got %d", got)
	}
}

func TestExportRoundTripsThroughRestore(testContext *testing.T) {
	db := mustDatabase(testContext)
	objects := newMemObjectStore()
	coordinator := mustCoordinator(testContext, db, objects)

	if result := coordinator.Restore(context.Background(), mustSnapshotJSON(testContext, sampleSnapshot())); !result.Success {
		testContext.Fatalf("seed restore failed: %q", result.Message)
	}

	handle, err := coordinator.Export(context.Background())
	if err != nil {
		testContext.Fatalf("export failed: %v", err)
	}
	if !strings.HasPrefix(handle.FileName, "backup-") || !strings.HasSuffix(handle.FileName, ".json") {
		testContext.Fatalf("unexpected snapshot name %q", handle.FileName)
	}
	if handle.URL == "" {
		testContext.Fatalf("expected a download URL")
	}

	snapshots, err := coordinator.List(context.Background())
	if err != nil || len(snapshots) != 1 {
		testContext.Fatalf("expected one stored snapshot, got %d (err %v)", len(snapshots), err)
	}

	// A fresh database restored from the export matches the original rows.
	restoredDB := mustDatabase(testContext)
	restored := mustCoordinator(testContext, restoredDB, objects)
	if result := restored.RestoreObject(context.Background(), handle.FileName); !result.Success {
		testContext.Fatalf("round-trip restore failed: %q", result.Message)
	}
	if got := countRows(testContext, restoredDB, &records.Document{}); got != 1 {
		testContext.Fatalf("expected exported document to round trip, got %d", got)
	}
}
