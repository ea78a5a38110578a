// Package storage is the narrow put/get/head surface the ingest pipeline
// needs from object storage, with local disk, S3 and GCS backends.
package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Backend names.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// ErrObjectNotFound is returned by Head and Get when the key has no object.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo is what a head request reports. ContentType may be empty when
// the backend does not record it.
type ObjectInfo struct {
	Size        int64
	ContentType string
}

// Backend is implemented by every storage backend.
type Backend interface {
	Name() string
	Head(ctx context.Context, key string) (*ObjectInfo, error)
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error)
}

// Presigner is implemented by remote backends that can issue native
// pre-signed requests. Backends without it are served through signed
// callback URLs into this service.
type Presigner interface {
	// PresignPut binds the URL to the declared content type and byte size.
	PresignPut(ctx context.Context, key, contentType string, size int64, expires time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, expires time.Duration) (string, error)
}

// NormalizeContentType lowercases a MIME type and drops parameters such as charset.
func NormalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
