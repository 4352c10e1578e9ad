// Package storage provides bucket-scoped object storage for document
// attachments, user avatars and database backup snapshots.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// Bucket names used by the application.
const (
	BucketDocuments = "documents"
	BucketAvatars   = "avatars"
	BucketBackups   = "db-backups"
)

var (
	// ErrObjectNotFound indicates the requested object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")
	// ErrObjectExists indicates an upload without overwrite hit an existing object.
	ErrObjectExists = errors.New("storage: object already exists")
	// ErrInvalidPath indicates a path that is empty or escapes its bucket.
	ErrInvalidPath = errors.New("storage: invalid object path")
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectStore is the object storage surface the rest of the system consumes.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, r io.Reader, overwrite bool) error
	Open(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	PublicURL(bucket, path string) string
	SignedURL(bucket, path string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, bucket, path string) error
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
}
