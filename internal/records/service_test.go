package records

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/storage"
	"gorm.io/gorm"
)

// capturePublisher records published change events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (p *capturePublisher) Publish(event feed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *capturePublisher) byType(eventType feed.EventType) []feed.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var matched []feed.Event
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// memObjects is an in-memory object store for service tests.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (s *memObjects) key(bucket, path string) string {
	return bucket + "/" + path
}

func (s *memObjects) Upload(_ context.Context, bucket, path string, r io.Reader, overwrite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memObjects) Open(_ context.Context, bucket, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[s.key(bucket, path)]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memObjects) PublicURL(bucket, path string) string {
	return "http://localhost/files/" + bucket + "/" + path
}

func (s *memObjects) SignedURL(bucket, path string, _ time.Duration) (string, error) {
	return s.PublicURL(bucket, path) + "?token=test", nil
}

func (s *memObjects) Delete(_ context.Context, bucket, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[s.key(bucket, path)]; !ok {
		return storage.ErrObjectNotFound
	}
	delete(s.objects, s.key(bucket, path))
	return nil
}

func (s *memObjects) List(_ context.Context, bucket, prefix string) ([]storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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

func (s *memObjects) has(bucket, path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[s.key(bucket, path)]
	return ok
}

// testFixture bundles the shared service dependencies.
type testFixture struct {
	db        *gorm.DB
	objects   *memObjects
	publisher *capturePublisher
	config    ServiceConfig
}

// newFixture opens a fresh database with an advancing clock so created_at
// ordering is deterministic.
func newFixture(testContext *testing.T) *testFixture {
	testContext.Helper()
	databasePath := filepath.Join(testContext.TempDir(), "records.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&User{}, &Session{}, &Document{}, &Agenda{},
		&QueuedNotification{}, &ActivityLog{}, &OneTimeCode{},
	); err != nil {
		testContext.Fatalf("failed to migrate schema: %v", err)
	}

	objects := newMemObjects()
	publisher := &capturePublisher{}
	var clockMu sync.Mutex
	current := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		current = current.Add(time.Second)
		return current
	}

	return &testFixture{
		db:        db,
		objects:   objects,
		publisher: publisher,
		config: ServiceConfig{
			Database:   db,
			Clock:      clock,
			IDProvider: NewUUIDProvider(),
			Publisher:  publisher,
			Objects:    objects,
		},
	}
}

func (f *testFixture) documents(testContext *testing.T) *DocumentService {
	testContext.Helper()
	service, err := NewDocumentService(f.config)
	if err != nil {
		testContext.Fatalf("failed to build document service: %v", err)
	}
	return service
}

func (f *testFixture) sessions(testContext *testing.T, notifier SessionNotifier) *SessionService {
	testContext.Helper()
	service, err := NewSessionService(f.config, notifier)
	if err != nil {
		testContext.Fatalf("failed to build session service: %v", err)
	}
	return service
}

func (f *testFixture) users(testContext *testing.T) *UserService {
	testContext.Helper()
	service, err := NewUserService(f.config)
	if err != nil {
		testContext.Fatalf("failed to build user service: %v", err)
	}
	return service
}

func (f *testFixture) activity(testContext *testing.T) *ActivityService {
	testContext.Helper()
	service, err := NewActivityService(f.config)
	if err != nil {
		testContext.Fatalf("failed to build activity service: %v", err)
	}
	return service
}

func (f *testFixture) activityRows(testContext *testing.T, table string) []ActivityLog {
	testContext.Helper()
	var rows []ActivityLog
	if err := f.db.Where("table_name = ?", table).Order("performed_at ASC").Find(&rows).Error; err != nil {
		testContext.Fatalf("failed to load activity rows: %v", err)
	}
	return rows
}

func upload(name, content string) *FileUpload {
	return &FileUpload{Name: name, Reader: strings.NewReader(content)}
}
