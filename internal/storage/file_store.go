package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileStore keeps objects on the local filesystem under root/<bucket>/<path>.
// Public URLs and signed URLs both resolve through the API's /files endpoint;
// signed URLs carry a token issued by the URLSigner.
type FileStore struct {
	root    string
	baseURL string
	signer  *URLSigner
}

// NewFileStore constructs a filesystem-backed object store rooted at root.
func NewFileStore(root, baseURL string, signer *URLSigner) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage: root directory required")
	}
	if signer == nil {
		return nil, fmt.Errorf("storage: url signer required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	return &FileStore{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  signer,
	}, nil
}

// Upload writes the object, creating parent directories as needed. Without
// overwrite, uploading onto an existing object fails with ErrObjectExists.
func (s *FileStore) Upload(_ context.Context, bucket, objectPath string, r io.Reader, overwrite bool) error {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(target); err == nil {
			return fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, objectPath)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, objectPath, err)
	}
	file, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, objectPath, err)
	}
	defer file.Close()
	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("storage: upload %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

// Open returns a reader over the stored object.
func (s *FileStore) Open(_ context.Context, bucket, objectPath string) (io.ReadCloser, error) {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectPath)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: open %s/%s: %w", bucket, objectPath, err)
	}
	return file, nil
}

// PublicURL returns the stable unauthenticated URL for an object.
func (s *FileStore) PublicURL(bucket, objectPath string) string {
	return fmt.Sprintf("%s/files/%s/%s", s.baseURL, bucket, cleanObjectPath(objectPath))
}

// SignedURL returns a time-boxed URL carrying a download token.
func (s *FileStore) SignedURL(bucket, objectPath string, ttl time.Duration) (string, error) {
	cleaned := cleanObjectPath(objectPath)
	token, err := s.signer.Sign(bucket, cleaned, ttl)
	if err != nil {
		return "", fmt.Errorf("storage: sign %s/%s: %w", bucket, objectPath, err)
	}
	return fmt.Sprintf("%s/files/%s/%s?token=%s", s.baseURL, bucket, cleaned, url.QueryEscape(token)), nil
}

// Delete removes the object. Deleting an absent object is an error so callers
// can distinguish a stale reference from a successful removal.
func (s *FileStore) Delete(_ context.Context, bucket, objectPath string) error {
	target, err := s.resolve(bucket, objectPath)
	if err != nil {
		return err
	}
	err = os.Remove(target)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, objectPath)
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s/%s: %w", bucket, objectPath, err)
	}
	return nil
}

// List enumerates objects in a bucket under the given prefix, newest name
// first to match the backup listing convention.
func (s *FileStore) List(_ context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if strings.TrimSpace(bucket) == "" || strings.ContainsAny(bucket, `/\`) {
		return nil, fmt.Errorf("%w: bucket %q", ErrInvalidPath, bucket)
	}
	bucketDir := filepath.Join(s.root, bucket)
	var objects []ObjectInfo
	walkErr := filepath.WalkDir(bucketDir, func(entryPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(bucketDir, entryPath)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Name:      name,
			Size:      info.Size(),
			UpdatedAt: info.ModTime().UTC(),
		})
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("storage: list %s: %w", bucket, walkErr)
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Name > objects[j].Name
	})
	return objects, nil
}

// Signer exposes the URL signer for download-token validation.
func (s *FileStore) Signer() *URLSigner {
	return s.signer
}

func (s *FileStore) resolve(bucket, objectPath string) (string, error) {
	if strings.TrimSpace(bucket) == "" || strings.ContainsAny(bucket, `/\`) {
		return "", fmt.Errorf("%w: bucket %q", ErrInvalidPath, bucket)
	}
	cleaned := cleanObjectPath(objectPath)
	if cleaned == "" || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, objectPath)
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(cleaned)), nil
}

func cleanObjectPath(objectPath string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(objectPath)), "/")
}
