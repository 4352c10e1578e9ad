package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/munilegis/legis/internal/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const backupFileTimeLayout = "2006-01-02T15-04-05Z"

var (
	errMissingDatabase = errors.New("backup: database handle required")
	errMissingObjects  = errors.New("backup: object store required")
)

// Result is the operator-facing outcome of an export or restore.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Handle identifies an exported snapshot object in the backup bucket.
type Handle struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// Config describes the dependencies for the backup coordinator.
type Config struct {
	Database *gorm.DB
	Objects  storage.ObjectStore
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Coordinator exports database snapshots to the backup bucket and merges
// uploaded snapshots back into the live database.
type Coordinator struct {
	db      *gorm.DB
	objects storage.ObjectStore
	clock   func() time.Time
	logger  *zap.Logger
}

// NewCoordinator constructs the coordinator.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.Objects == nil {
		return nil, errMissingObjects
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{db: cfg.Database, objects: cfg.Objects, clock: clock, logger: logger}, nil
}

// Export serializes every table into a snapshot document and uploads it to
// the backup bucket under a timestamped name.
func (c *Coordinator) Export(ctx context.Context) (Handle, error) {
	now := c.clock().UTC()
	snapshot := Snapshot{
		FormatVersion: FormatVersion,
		CreatedAt:     now.Format(time.RFC3339),
	}

	db := c.db.WithContext(ctx)
	for _, step := range []struct {
		table string
		dest  any
	}{
		{"users", &snapshot.Users},
		{"sessions", &snapshot.Sessions},
		{"documents", &snapshot.Documents},
		{"session_documents", &snapshot.Agendas},
		{"notifications_queue", &snapshot.Notifications},
		{"activity_logs", &snapshot.ActivityLogs},
	} {
		if err := db.Find(step.dest).Error; err != nil {
			c.logger.Error("backup export query failed",
				zap.String("table", step.table), zap.Error(err))
			return Handle{}, fmt.Errorf("backup: export %s: %w", step.table, err)
		}
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Handle{}, fmt.Errorf("backup: encode snapshot: %w", err)
	}
	fileName := fmt.Sprintf("backup-%s.json", now.Format(backupFileTimeLayout))
	if err := c.objects.Upload(ctx, storage.BucketBackups, fileName, bytes.NewReader(payload), true); err != nil {
		c.logger.Error("backup upload failed", zap.String("file", fileName), zap.Error(err))
		return Handle{}, fmt.Errorf("backup: upload snapshot: %w", err)
	}

	c.logger.Info("database backup exported",
		zap.String("file", fileName), zap.Int("bytes", len(payload)))
	return Handle{
		FileName: fileName,
		URL:      c.objects.PublicURL(storage.BucketBackups, fileName),
	}, nil
}

// Restore merges a snapshot document into the live database. Tables merge in
// a fixed order so referenced rows land before the rows that point at them:
// users, sessions, documents, session_documents, notifications_queue,
// activity_logs. Each row upserts by primary key. The merge is not
// transactional across tables; on failure the tables merged so far stay
// merged and the result names the failing table.
func (c *Coordinator) Restore(ctx context.Context, raw []byte) Result {
	snapshot, err := decodeSnapshot(raw)
	if err != nil {
		c.logger.Error("backup snapshot rejected", zap.Error(err))
		return Result{Success: false, Message: err.Error()}
	}

	db := c.db.WithContext(ctx)
	for _, table := range restoreOrder {
		var mergeErr error
		switch table {
		case "users":
			mergeErr = mergeRows(db, snapshot.Users)
		case "sessions":
			mergeErr = mergeRows(db, snapshot.Sessions)
		case "documents":
			mergeErr = mergeRows(db, snapshot.Documents)
		case "session_documents":
			mergeErr = mergeRows(db, snapshot.Agendas)
		case "notifications_queue":
			mergeErr = mergeRows(db, snapshot.Notifications)
		case "activity_logs":
			mergeErr = mergeRows(db, snapshot.ActivityLogs)
		}
		if mergeErr != nil {
			c.logger.Error("backup restore failed",
				zap.String("table", table), zap.Error(mergeErr))
			return Result{Success: false, Message: fmt.Sprintf("Error merging %s: %s", table, mergeErr)}
		}
	}

	c.logger.Info("database backup restored")
	return Result{Success: true, Message: "Backup restored successfully"}
}

// RestoreObject fetches a snapshot from the backup bucket by name and merges it.
func (c *Coordinator) RestoreObject(ctx context.Context, fileName string) Result {
	reader, err := c.objects.Open(ctx, storage.BucketBackups, fileName)
	if err != nil {
		c.logger.Error("backup snapshot open failed", zap.String("file", fileName), zap.Error(err))
		return Result{Success: false, Message: fmt.Sprintf("backup: open snapshot %s: %s", fileName, err)}
	}
	defer reader.Close()
	raw, err := io.ReadAll(reader)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("backup: read snapshot %s: %s", fileName, err)}
	}
	return c.Restore(ctx, raw)
}

// List returns the stored snapshots, newest name first.
func (c *Coordinator) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	return c.objects.List(ctx, storage.BucketBackups, "backup-")
}

// SignedURL returns a time-limited download link for a snapshot.
func (c *Coordinator) SignedURL(fileName string, ttl time.Duration) (string, error) {
	return c.objects.SignedURL(storage.BucketBackups, fileName, ttl)
}

// Delete removes a snapshot from the backup bucket.
func (c *Coordinator) Delete(ctx context.Context, fileName string) error {
	return c.objects.Delete(ctx, storage.BucketBackups, fileName)
}

// mergeRows upserts a table's rows by primary key. Rows that exist are
// overwritten with snapshot values, rows that do not are inserted.
func mergeRows[T any](db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
}
