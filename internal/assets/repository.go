package assets

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// ErrNotFound is returned for assets that are missing or belong to another org.
var ErrNotFound = errors.New("not found")

// Repository handles asset reads and mint audit records.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an assets repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// GetAsset returns the asset if it belongs to orgID.
func (r *Repository) GetAsset(ctx context.Context, orgID, assetID uuid.UUID) (*models.Asset, error) {
	const q = `SELECT id, org_id, dataset_id, item_id, kind, storage_key, content_type, byte_size, sha256, created_at
		FROM assets WHERE id = $1 AND org_id = $2`
	var a models.Asset
	err := r.db.QueryRow(ctx, q, assetID, orgID).Scan(&a.ID, &a.OrgID, &a.DatasetID, &a.ItemID, &a.Kind,
		&a.StorageKey, &a.ContentType, &a.ByteSize, &a.SHA256, &a.CreatedAt)
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

// RecordAudit writes ev outside any transaction.
func (r *Repository) RecordAudit(ctx context.Context, ev models.AuditEvent) error {
	return audit.Record(ctx, r.db, ev)
}
