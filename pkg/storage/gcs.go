package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// GCSConfig holds Google Cloud Storage settings. An empty CredentialsFile
// uses application default credentials.
type GCSConfig struct {
	Bucket          string
	CredentialsFile string
}

// GCS is the Google Cloud Storage backend with V4 signed URLs.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	cfg    GCSConfig
	logger *zap.Logger
}

// NewGCS creates a GCS client for cfg.Bucket.
func NewGCS(ctx context.Context, cfg GCSConfig, logger *zap.Logger) (*GCS, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	opts := []option.ClientOption{option.WithScopes(gcs.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	logger.Info("GCS client ready", zap.String("bucket", cfg.Bucket))
	return &GCS{client: client, bucket: client.Bucket(cfg.Bucket), cfg: cfg, logger: logger}, nil
}

func (g *GCS) Name() string { return BackendGCS }

// Close releases the underlying client.
func (g *GCS) Close() error { return g.client.Close() }

// PresignPut returns a V4 signed PUT URL bound to the declared content type.
// The client must send the signed x-goog-content-length-range header.
func (g *GCS) PresignPut(_ context.Context, key, contentType string, size int64, expires time.Duration) (string, error) {
	u, err := g.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:      gcs.SigningSchemeV4,
		Method:      http.MethodPut,
		ContentType: contentType,
		Headers:     []string{contentLengthRange(size)},
		Expires:     time.Now().Add(expires),
	})
	if err != nil {
		return "", fmt.Errorf("sign put url: %w", err)
	}
	return u, nil
}

// PresignGet returns a V4 signed GET URL.
func (g *GCS) PresignGet(_ context.Context, key string, expires time.Duration) (string, error) {
	u, err := g.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Scheme:  gcs.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expires),
	})
	if err != nil {
		return "", fmt.Errorf("sign get url: %w", err)
	}
	return u, nil
}

// Head returns object attrs if the object exists.
func (g *GCS) Head(ctx context.Context, key string) (*ObjectInfo, error) {
	ctx2, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	attrs, err := g.bucket.Object(key).Attrs(ctx2)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("fetch gcs object attrs: %w", err)
	}
	return &ObjectInfo{Size: attrs.Size, ContentType: attrs.ContentType}, nil
}

// Put writes body to the object.
func (g *GCS) Put(ctx context.Context, key, contentType string, body io.Reader, _ int64) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gcs object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gcs writer: %w", err)
	}
	return nil
}

// Get opens a reader on the object. Caller must close it.
func (g *GCS) Get(ctx context.Context, key string) (io.ReadCloser, *ObjectInfo, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, nil, ErrObjectNotFound
		}
		return nil, nil, fmt.Errorf("open gcs reader: %w", err)
	}
	return r, &ObjectInfo{Size: r.Attrs.Size, ContentType: r.Attrs.ContentType}, nil
}

// contentLengthRange caps a signed GCS upload at the declared size.
func contentLengthRange(size int64) string {
	return fmt.Sprintf("x-goog-content-length-range:0,%d", size)
}
