package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/munilegis/legis/internal/feed"
	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("records: not found")
	noOpLogger  = zap.NewNop()
)

// ServiceError carries a dotted operation.reason code plus the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Publisher receives committed row-change events for fan-out.
type Publisher interface {
	Publish(event feed.Event)
}

// IDProvider issues new record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// FileUpload is a pending attachment supplied alongside a create or update.
type FileUpload struct {
	Name   string
	Reader io.Reader
}

// ServiceConfig describes the shared dependencies of the records services.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Objects    storage.ObjectStore
	Logger     *zap.Logger
}

// core holds dependencies common to every records service.
type core struct {
	db        *gorm.DB
	clock     func() time.Time
	ids       IDProvider
	publisher Publisher
	objects   storage.ObjectStore
	logger    *zap.Logger
}

func newCore(cfg ServiceConfig, operation string) (core, error) {
	if cfg.Database == nil {
		return core{}, newServiceError(operation, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return core{}, newServiceError(operation, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return core{
		db:        cfg.Database,
		clock:     clock,
		ids:       cfg.IDProvider,
		publisher: cfg.Publisher,
		objects:   cfg.Objects,
		logger:    logger,
	}, nil
}

func (c *core) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("records service error", attrs...)
}

// publish emits a committed change event. Marshal failures are logged and the
// event dropped; the write itself has already succeeded.
func (c *core) publish(table string, eventType feed.EventType, recordID string, newRow, oldRow any) {
	if c.publisher == nil {
		return
	}
	event := feed.Event{
		Table:      table,
		Type:       eventType,
		RecordID:   recordID,
		OccurredAt: c.clock().UTC(),
	}
	if newRow != nil {
		payload, err := json.Marshal(newRow)
		if err != nil {
			c.logger.Warn("dropping change event with unmarshalable row",
				zap.String("table", table), zap.Error(err))
			return
		}
		event.New = payload
	}
	if oldRow != nil {
		payload, err := json.Marshal(oldRow)
		if err != nil {
			c.logger.Warn("dropping change event with unmarshalable row",
				zap.String("table", table), zap.Error(err))
			return
		}
		event.Old = payload
	}
	c.publisher.Publish(event)
}

type actorContextKey struct{}

// WithActor attaches the acting user's email to the context so mutations can
// attribute their activity log rows.
func WithActor(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorContextKey{}, email)
}

func actorFrom(ctx context.Context) *string {
	if value, ok := ctx.Value(actorContextKey{}).(string); ok && value != "" {
		return &value
	}
	return nil
}
