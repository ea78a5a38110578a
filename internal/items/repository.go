package items

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// ErrNotFound is returned for items that are missing or belong to another org.
var ErrNotFound = errors.New("not found")

// Repository handles item detail reads.
type Repository struct {
	db database.DBTX
}

// NewRepository creates an items repository.
func NewRepository(db database.DBTX) *Repository {
	return &Repository{db: db}
}

// GetItem returns the item if it belongs to orgID.
func (r *Repository) GetItem(ctx context.Context, orgID, itemID uuid.UUID) (*models.Item, error) {
	const q = `SELECT id, org_id, dataset_id, type, title, summary, payload, created_at
		FROM items WHERE id = $1 AND org_id = $2`
	var it models.Item
	var payload []byte
	err := r.db.QueryRow(ctx, q, itemID, orgID).Scan(&it.ID, &it.OrgID, &it.DatasetID, &it.Type,
		&it.Title, &it.Summary, &payload, &it.CreatedAt)
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	it.Payload = payload
	return &it, nil
}

// ListAssets returns metadata of the assets linked to an item.
func (r *Repository) ListAssets(ctx context.Context, orgID, itemID uuid.UUID) ([]models.AssetSummary, error) {
	const q = `SELECT id, kind, content_type, byte_size FROM assets
		WHERE org_id = $1 AND item_id = $2 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, q, orgID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list item assets: %w", err)
	}
	defer rows.Close()
	out := []models.AssetSummary{}
	for rows.Next() {
		var a models.AssetSummary
		if err := rows.Scan(&a.ID, &a.Kind, &a.ContentType, &a.ByteSize); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAnnotations returns an item's annotations in insertion order.
func (r *Repository) ListAnnotations(ctx context.Context, orgID, itemID uuid.UUID) ([]models.Annotation, error) {
	const q = `SELECT id, org_id, dataset_id, item_id, schema, data, created_at FROM annotations
		WHERE org_id = $1 AND item_id = $2 ORDER BY created_at, id`
	rows, err := r.db.Query(ctx, q, orgID, itemID)
	if err != nil {
		return nil, fmt.Errorf("list annotations: %w", err)
	}
	defer rows.Close()
	out := []models.Annotation{}
	for rows.Next() {
		var a models.Annotation
		var data []byte
		if err := rows.Scan(&a.ID, &a.OrgID, &a.DatasetID, &a.ItemID, &a.Schema, &data, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		a.Data = data
		out = append(out, a)
	}
	return out, rows.Err()
}
