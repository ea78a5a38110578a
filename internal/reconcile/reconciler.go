// Package reconcile confirms that registered assets actually landed in
// object storage with the size and content type the client declared.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

// Mismatch describes why a stored object disagrees with its asset row.
// Type is one of the schema asset_* error types.
type Mismatch struct {
	Type    string
	Message string
}

func (m *Mismatch) Error() string { return m.Message }

// Header is the head operation the reconciler needs from storage.
type Header interface {
	Head(ctx context.Context, key string) (*storage.ObjectInfo, error)
}

// Reconciler compares asset rows against storage.
type Reconciler struct {
	store       Header
	concurrency int
	logger      *zap.Logger
}

// New creates a Reconciler. concurrency bounds parallel head calls per batch.
func New(store Header, concurrency int, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Reconciler{store: store, concurrency: concurrency, logger: logger}
}

// Check heads one asset. It returns (nil, nil) when the object matches,
// a Mismatch when it does not, and an error when storage itself failed.
func (r *Reconciler) Check(ctx context.Context, a models.Asset) (*Mismatch, error) {
	info, err := r.store.Head(ctx, a.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return &Mismatch{Type: schema.ErrAssetMissingInStorage, Message: "asset not found in storage"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("head asset %s: %w", a.ID, err)
	}
	if a.ByteSize > 0 && info.Size != a.ByteSize {
		return &Mismatch{
			Type: schema.ErrAssetSizeMismatch,
			Message: fmt.Sprintf("stored size %s (%d bytes) does not match declared %s (%d bytes)",
				humanize.IBytes(uint64(max(info.Size, 0))), info.Size, humanize.IBytes(uint64(a.ByteSize)), a.ByteSize),
		}, nil
	}
	declared := storage.NormalizeContentType(a.ContentType)
	stored := storage.NormalizeContentType(info.ContentType)
	if declared != "" && stored != "" && declared != stored {
		return &Mismatch{
			Type:    schema.ErrAssetContentTypeMismatch,
			Message: fmt.Sprintf("stored content type %q does not match declared %q", stored, declared),
		}, nil
	}
	return nil, nil
}

// All reconciles each distinct asset once, concurrently. The returned map
// holds only mismatched assets. Any storage failure cancels the batch.
func (r *Reconciler) All(ctx context.Context, assets []models.Asset) (map[uuid.UUID]*Mismatch, error) {
	seen := make(map[uuid.UUID]bool, len(assets))
	var mu sync.Mutex
	out := make(map[uuid.UUID]*Mismatch)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, a := range assets {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		g.Go(func() error {
			m, err := r.Check(gctx, a)
			if err != nil {
				return err
			}
			if m != nil {
				r.logger.Info("asset reconcile mismatch",
					zap.String("asset_id", a.ID.String()),
					zap.String("type", m.Type),
				)
				mu.Lock()
				out[a.ID] = m
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
