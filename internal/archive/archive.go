// Package archive stores copies of admin data exports in object storage so
// exports survive beyond the HTTP response that produced them.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// ObjectStore defines the object operations common to the supported
// backends.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// Archiver writes export payloads under a deterministic key layout.
type Archiver struct {
	store ObjectStore
}

// NewArchiver constructs an Archiver over the given backend.
func NewArchiver(store ObjectStore) *Archiver {
	return &Archiver{store: store}
}

// StoreExport uploads an export payload and returns the object key. Keys are
// exports/users_<timestamp>_<uuid>.<ext> so repeated exports never collide.
func (a *Archiver) StoreExport(ctx context.Context, payload []byte, format string) (string, error) {
	contentType := "application/json"
	if format == "csv" {
		contentType = "text/csv"
	}
	key := fmt.Sprintf("exports/users_%s_%s.%s",
		time.Now().UTC().Format("20060102_150405"), uuid.NewString(), format)

	if err := a.store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), contentType); err != nil {
		return "", err
	}
	return key, nil
}

// EnsureBucket ensures the configured bucket exists.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	return a.store.EnsureBucket(ctx)
}

// Bucket returns the configured bucket name.
func (a *Archiver) Bucket() string {
	return a.store.Bucket()
}
