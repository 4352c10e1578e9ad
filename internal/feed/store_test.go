package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

type testRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (r testRecord) EntityID() string {
	return r.ID
}

type fakeSource struct {
	rows     []testRecord
	fetchErr error
	inserted []testRecord
	updated  []testRecord
	deleted  []string
	mutErr   error
}

func (s *fakeSource) FetchAll(context.Context) ([]testRecord, error) {
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return append([]testRecord(nil), s.rows...), nil
}

func (s *fakeSource) Insert(_ context.Context, record testRecord) (testRecord, error) {
	if s.mutErr != nil {
		return testRecord{}, s.mutErr
	}
	s.inserted = append(s.inserted, record)
	return record, nil
}

func (s *fakeSource) Update(_ context.Context, _ string, record testRecord) (testRecord, error) {
	if s.mutErr != nil {
		return testRecord{}, s.mutErr
	}
	s.updated = append(s.updated, record)
	return record, nil
}

func (s *fakeSource) Delete(_ context.Context, id string) error {
	if s.mutErr != nil {
		return s.mutErr
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func mustStore(testContext *testing.T, source Source[testRecord], feed Subscription) *Store[testRecord] {
	testContext.Helper()
	if feed == nil {
		feed = NewDispatcher()
	}
	store, err := NewStore(StoreConfig[testRecord]{Table: "documents", Source: source, Feed: feed})
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	return store
}

func mustRow(testContext *testing.T, record testRecord) json.RawMessage {
	testContext.Helper()
	payload, err := json.Marshal(record)
	if err != nil {
		testContext.Fatalf("failed to marshal record: %v", err)
	}
	return payload
}

func insertEvent(testContext *testing.T, record testRecord) Event {
	return Event{Table: "documents", Type: EventInsert, RecordID: record.ID, New: mustRow(testContext, record)}
}

func idsOf(items []testRecord) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func TestStoreInsertDedupesEitherArrivalOrder(testContext *testing.T) {
	record := testRecord{ID: "doc-1", Title: "Ordinance 1"}

	// Confirmed write first, echoed push second.
	store := mustStore(testContext, &fakeSource{}, nil)
	if _, err := store.Create(context.Background(), record); err != nil {
		testContext.Fatalf("create failed: %v", err)
	}
	store.Apply(insertEvent(testContext, record))
	if store.Len() != 1 {
		testContext.Fatalf("expected one row after echo, got %d", store.Len())
	}

	// Push first, confirmed write second.
	store = mustStore(testContext, &fakeSource{}, nil)
	store.Apply(insertEvent(testContext, record))
	if _, err := store.Create(context.Background(), record); err != nil {
		testContext.Fatalf("create failed: %v", err)
	}
	if store.Len() != 1 {
		testContext.Fatalf("expected one row after both arrivals, got %d", store.Len())
	}
}

func TestStoreInsertPrependsNewestFirst(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	for i := 1; i <= 3; i++ {
		store.Apply(insertEvent(testContext, testRecord{ID: fmt.Sprintf("doc-%d", i)}))
	}
	got := idsOf(store.Items())
	want := []string{"doc-3", "doc-2", "doc-1"}
	for i := range want {
		if got[i] != want[i] {
			testContext.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestStoreUpdateNeverCreatesPhantomRow(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	store.Apply(Event{
		Table: "documents",
		Type:  EventUpdate,
		New:   mustRow(testContext, testRecord{ID: "ghost", Title: "never loaded"}),
	})
	if store.Len() != 0 {
		testContext.Fatalf("update for unknown row must be ignored, got %d rows", store.Len())
	}
}

func TestStoreUpdateReplacesInPlace(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	store.Apply(insertEvent(testContext, testRecord{ID: "doc-1", Title: "before"}))
	store.Apply(insertEvent(testContext, testRecord{ID: "doc-2", Title: "other"}))
	store.Apply(Event{
		Table: "documents",
		Type:  EventUpdate,
		New:   mustRow(testContext, testRecord{ID: "doc-1", Title: "after"}),
	})
	items := store.Items()
	if len(items) != 2 {
		testContext.Fatalf("expected two rows, got %d", len(items))
	}
	if items[1].Title != "after" {
		testContext.Fatalf("expected updated title in place, got %q", items[1].Title)
	}
	if items[0].ID != "doc-2" {
		testContext.Fatalf("update must not reorder rows")
	}
}

func TestStoreDeleteForAbsentRowIsNoOp(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	store.Apply(insertEvent(testContext, testRecord{ID: "doc-1"}))
	store.Apply(Event{Table: "documents", Type: EventDelete, RecordID: "missing"})
	if store.Len() != 1 {
		testContext.Fatalf("delete of unknown row must leave collection intact, got %d", store.Len())
	}
	store.Apply(Event{Table: "documents", Type: EventDelete, RecordID: "doc-1"})
	if store.Len() != 0 {
		testContext.Fatalf("expected empty collection after delete, got %d", store.Len())
	}
}

func TestStoreDeleteFallsBackToOldPayload(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	store.Apply(insertEvent(testContext, testRecord{ID: "doc-1"}))
	store.Apply(Event{
		Table: "documents",
		Type:  EventDelete,
		Old:   mustRow(testContext, testRecord{ID: "doc-1"}),
	})
	if store.Len() != 0 {
		testContext.Fatalf("expected delete via old payload, got %d rows", store.Len())
	}
}

func TestStoreLoadReplacesStateAndCapturesError(testContext *testing.T) {
	source := &fakeSource{rows: []testRecord{{ID: "doc-1"}, {ID: "doc-2"}}}
	store := mustStore(testContext, source, nil)
	store.Apply(insertEvent(testContext, testRecord{ID: "stale"}))

	if err := store.Load(context.Background()); err != nil {
		testContext.Fatalf("load failed: %v", err)
	}
	if store.Len() != 2 || store.Err() != nil {
		testContext.Fatalf("expected clean reload, len=%d err=%v", store.Len(), store.Err())
	}

	loadFailure := errors.New("backend down")
	source.fetchErr = loadFailure
	if err := store.Load(context.Background()); !errors.Is(err, loadFailure) {
		testContext.Fatalf("expected load error, got %v", err)
	}
	if !errors.Is(store.Err(), loadFailure) {
		testContext.Fatalf("expected captured load error, got %v", store.Err())
	}
	// Failed reload keeps the previous collection.
	if store.Len() != 2 {
		testContext.Fatalf("failed load must not clear state, got %d rows", store.Len())
	}
}

func TestStoreMalformedEventIsSkipped(testContext *testing.T) {
	store := mustStore(testContext, &fakeSource{}, nil)
	store.Apply(Event{Table: "documents", Type: EventInsert, New: json.RawMessage(`{"id":`)})
	store.Apply(Event{Table: "documents", Type: EventInsert, New: json.RawMessage(`{"title":"no identity"}`)})
	store.Apply(insertEvent(testContext, testRecord{ID: "doc-1"}))
	if store.Len() != 1 {
		testContext.Fatalf("malformed events must be skipped, got %d rows", store.Len())
	}
}

func TestStoreSubscribeReceivesDispatcherEvents(testContext *testing.T) {
	dispatcher := NewDispatcher()
	store := mustStore(testContext, &fakeSource{}, dispatcher)
	store.Subscribe(context.Background())
	defer store.Unsubscribe()

	dispatcher.Publish(insertEvent(testContext, testRecord{ID: "doc-1"}))

	deadline := time.After(2 * time.Second)
	for store.Len() != 1 {
		select {
		case <-deadline:
			testContext.Fatalf("event was not applied before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Second subscribe is a no-op, unsubscribe twice is safe.
	store.Subscribe(context.Background())
	store.Unsubscribe()
	store.Unsubscribe()
}
