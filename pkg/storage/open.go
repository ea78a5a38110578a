package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures one backend.
type Config struct {
	Backend  string
	LocalDir string
	S3       S3Config
	GCS      GCSConfig
}

// Open constructs the configured backend.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Backend, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocal(cfg.LocalDir, logger)
	case BackendS3:
		return NewS3(ctx, cfg.S3, logger)
	case BackendGCS:
		return NewGCS(ctx, cfg.GCS, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
