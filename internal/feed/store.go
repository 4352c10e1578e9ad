package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingTable  = errors.New("feed: table name is required")
	errMissingSource = errors.New("feed: source is required")
	errMissingFeed   = errors.New("feed: subscription feed is required")
)

// Entity is any record with a stable string identity.
type Entity interface {
	EntityID() string
}

// Source is the remote system of record for one entity type. Every method is
// a confirmed round trip: nothing is applied locally until the backend has
// acknowledged the write and returned the resulting row.
type Source[T Entity] interface {
	FetchAll(ctx context.Context) ([]T, error)
	Insert(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, id string, record T) (T, error)
	Delete(ctx context.Context, id string) error
}

// Subscription establishes a push channel of row-change events for a table.
type Subscription interface {
	Subscribe(ctx context.Context, table string) (<-chan Event, func())
}

// StoreConfig describes the dependencies for a change-feed store.
type StoreConfig[T Entity] struct {
	Table  string
	Source Source[T]
	Feed   Subscription
	Logger *zap.Logger
}

// Store maintains a deduplicated, newest-first collection of one entity type,
// kept consistent with the source of truth via explicit loads plus pushed
// change events.
//
// Reconciliation is last-write-wins: a confirmed local mutation and the echoed
// push event for the same row apply the same identity-keyed rule, so either
// arrival order converges to the same collection. There is no version compare;
// this is the documented trade-off for a low-contention admin tool.
type Store[T Entity] struct {
	table  string
	source Source[T]
	feed   Subscription
	logger *zap.Logger

	mu      sync.RWMutex
	items   []T
	loadErr error

	subMu   sync.Mutex
	cancel  context.CancelFunc
	cleanup func()
	done    chan struct{}
}

// NewStore constructs a store for one table.
func NewStore[T Entity](cfg StoreConfig[T]) (*Store[T], error) {
	if cfg.Table == "" {
		return nil, errMissingTable
	}
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Feed == nil {
		return nil, errMissingFeed
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[T]{
		table:  cfg.Table,
		source: cfg.Source,
		feed:   cfg.Feed,
		logger: logger,
	}, nil
}

// Load fetches the complete collection, replacing local state entirely. The
// error is both captured as store state (for passive rendering) and returned
// (for callers acting on the result).
func (s *Store[T]) Load(ctx context.Context) error {
	fetched, err := s.source.FetchAll(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.loadErr = err
		return fmt.Errorf("feed: load %s: %w", s.table, err)
	}
	s.items = append([]T(nil), fetched...)
	s.loadErr = nil
	return nil
}

// Create sends a creation request and, once confirmed, makes the new row
// visible locally. A later push INSERT for the same identity is a no-op.
func (s *Store[T]) Create(ctx context.Context, record T) (T, error) {
	created, err := s.source.Insert(ctx, record)
	if err != nil {
		var zero T
		return zero, err
	}
	s.mu.Lock()
	s.applyInsert(created)
	s.mu.Unlock()
	return created, nil
}

// Update sends a partial update and replaces the matching local row with the
// server's returned row, which may carry derived fields.
func (s *Store[T]) Update(ctx context.Context, id string, record T) (T, error) {
	updated, err := s.source.Update(ctx, id, record)
	if err != nil {
		var zero T
		return zero, err
	}
	s.mu.Lock()
	s.applyUpdate(updated)
	s.mu.Unlock()
	return updated, nil
}

// Remove sends a delete and drops the matching local row once confirmed.
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	if err := s.source.Delete(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.applyDelete(id)
	s.mu.Unlock()
	return nil
}

// Subscribe establishes the push channel. Calling it while already subscribed
// is a no-op. Events are consumed sequentially; a malformed payload is logged
// and skipped without tearing the subscription down.
func (s *Store[T]) Subscribe(ctx context.Context) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.cancel != nil {
		return
	}
	streamCtx, cancel := context.WithCancel(ctx)
	stream, cleanup := s.feed.Subscribe(streamCtx, s.table)
	done := make(chan struct{})
	s.cancel = cancel
	s.cleanup = cleanup
	s.done = done
	go func() {
		defer close(done)
		for {
			select {
			case <-streamCtx.Done():
				return
			case event, ok := <-stream:
				if !ok {
					return
				}
				s.consume(event)
			}
		}
	}()
}

// Unsubscribe tears the push channel down. Safe to call when not subscribed.
func (s *Store[T]) Unsubscribe() {
	s.subMu.Lock()
	cancel := s.cancel
	cleanup := s.cleanup
	done := s.done
	s.cancel = nil
	s.cleanup = nil
	s.done = nil
	s.subMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	cleanup()
	<-done
}

// Items returns a snapshot copy of the collection, newest first.
func (s *Store[T]) Items() []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]T(nil), s.items...)
}

// Len reports the current collection size.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Err reports the last load failure, if any.
func (s *Store[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadErr
}

// Apply reconciles a single change event into the collection. Exposed so the
// subscription loop and tests share one code path.
func (s *Store[T]) Apply(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch event.Type {
	case EventInsert:
		record, err := s.decode(event.New)
		if err != nil {
			s.logger.Warn("discarding malformed insert event",
				zap.String("table", s.table), zap.Error(err))
			return
		}
		s.applyInsert(record)
	case EventUpdate:
		record, err := s.decode(event.New)
		if err != nil {
			s.logger.Warn("discarding malformed update event",
				zap.String("table", s.table), zap.Error(err))
			return
		}
		s.applyUpdate(record)
	case EventDelete:
		id := event.RecordID
		if id == "" {
			record, err := s.decode(event.Old)
			if err != nil {
				s.logger.Warn("discarding malformed delete event",
					zap.String("table", s.table), zap.Error(err))
				return
			}
			id = record.EntityID()
		}
		s.applyDelete(id)
	default:
		s.logger.Warn("ignoring unknown event type",
			zap.String("table", s.table), zap.String("event_type", string(event.Type)))
	}
}

func (s *Store[T]) consume(event Event) {
	if event.Table != "" && event.Table != s.table {
		return
	}
	s.Apply(event)
}

func (s *Store[T]) decode(payload json.RawMessage) (T, error) {
	var record T
	if len(payload) == 0 {
		return record, errors.New("empty payload")
	}
	if err := json.Unmarshal(payload, &record); err != nil {
		return record, err
	}
	if record.EntityID() == "" {
		return record, errors.New("payload missing identity")
	}
	return record, nil
}

// applyInsert prepends the record unless a row with its identity exists. The
// prepend keeps the collection newest-first.
func (s *Store[T]) applyInsert(record T) {
	if s.indexOf(record.EntityID()) >= 0 {
		return
	}
	s.items = append([]T{record}, s.items...)
}

// applyUpdate replaces the row with matching identity in place; an update for
// an unknown row is ignored rather than inserted.
func (s *Store[T]) applyUpdate(record T) {
	if i := s.indexOf(record.EntityID()); i >= 0 {
		s.items[i] = record
	}
}

func (s *Store[T]) applyDelete(id string) {
	if i := s.indexOf(id); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
}

func (s *Store[T]) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].EntityID() == id {
			return i
		}
	}
	return -1
}
