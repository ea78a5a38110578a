package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// Store is the persistence used by Service. The same methods run on the pool
// or inside a transaction.
type Store interface {
	GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error)
	// LockDataset is GetDataset with a row lock held until the transaction ends.
	LockDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error)
	CreateDataset(ctx context.Context, d *models.Dataset) error
	SetStatus(ctx context.Context, datasetID uuid.UUID, status string, publishedAt *time.Time) error

	GetAsset(ctx context.Context, orgID, assetID uuid.UUID) (*models.Asset, error)
	UnlinkedAssets(ctx context.Context, orgID, datasetID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error)
	CreateAssets(ctx context.Context, assets []models.Asset) error
	// LinkAssets sets item_id on still-unlinked assets and returns the number linked.
	LinkAssets(ctx context.Context, orgID, datasetID uuid.UUID, links []AssetLink) (int64, error)

	InsertItems(ctx context.Context, items []models.Item) error
	InsertAnnotations(ctx context.Context, anns []models.Annotation) error
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// AssetLink binds an asset to the item that first references it.
type AssetLink struct {
	AssetID uuid.UUID
	ItemID  uuid.UUID
}

// UnitOfWork runs fn against a Store bound to one transaction.
type UnitOfWork interface {
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type txUnitOfWork struct {
	runner database.TxRunner
}

// NewUnitOfWork adapts a database.TxRunner to a UnitOfWork over PGStore.
func NewUnitOfWork(runner database.TxRunner) UnitOfWork {
	return &txUnitOfWork{runner: runner}
}

// maxTxAttempts bounds retries of transactions aborted by deadlock or
// serialization failure.
const maxTxAttempts = 3

func (u *txUnitOfWork) InTx(ctx context.Context, fn func(tx Store) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = u.runner.InTx(ctx, func(tx database.DBTX) error {
			return fn(NewPGStore(tx))
		})
		if !database.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

// PGStore implements Store with raw SQL over pgx.
type PGStore struct {
	db database.DBTX
}

// NewPGStore creates a store on db, the pool or an open transaction.
func NewPGStore(db database.DBTX) *PGStore {
	return &PGStore{db: db}
}

const datasetColumns = `id, org_id, name, description, tags, status, created_by_user_id, created_at, published_at`

func (s *PGStore) getDataset(ctx context.Context, q string, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	var d models.Dataset
	err := s.db.QueryRow(ctx, q, datasetID, orgID).Scan(&d.ID, &d.OrgID, &d.Name, &d.Description, &d.Tags,
		&d.Status, &d.CreatedByUserID, &d.CreatedAt, &d.PublishedAt)
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return &d, nil
}

// GetDataset returns the dataset if it belongs to orgID.
func (s *PGStore) GetDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	return s.getDataset(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1 AND org_id = $2`, orgID, datasetID)
}

// LockDataset returns the dataset row locked FOR UPDATE.
func (s *PGStore) LockDataset(ctx context.Context, orgID, datasetID uuid.UUID) (*models.Dataset, error) {
	return s.getDataset(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1 AND org_id = $2 FOR UPDATE`, orgID, datasetID)
}

// CreateDataset inserts a draft dataset.
func (s *PGStore) CreateDataset(ctx context.Context, d *models.Dataset) error {
	return datasets.Create(ctx, s.db, d)
}

// SetStatus updates status and, when given, published_at.
func (s *PGStore) SetStatus(ctx context.Context, datasetID uuid.UUID, status string, publishedAt *time.Time) error {
	const q = `UPDATE datasets SET status = $2, published_at = COALESCE($3, published_at) WHERE id = $1`
	if _, err := s.db.Exec(ctx, q, datasetID, status, publishedAt); err != nil {
		return fmt.Errorf("update dataset status: %w", err)
	}
	return nil
}

const assetColumns = `id, org_id, dataset_id, item_id, kind, storage_key, content_type, byte_size, sha256, created_at`

func scanAsset(row pgx.Row) (models.Asset, error) {
	var a models.Asset
	err := row.Scan(&a.ID, &a.OrgID, &a.DatasetID, &a.ItemID, &a.Kind, &a.StorageKey,
		&a.ContentType, &a.ByteSize, &a.SHA256, &a.CreatedAt)
	return a, err
}

// GetAsset returns the asset if it belongs to orgID.
func (s *PGStore) GetAsset(ctx context.Context, orgID, assetID uuid.UUID) (*models.Asset, error) {
	a, err := scanAsset(s.db.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 AND org_id = $2`, assetID, orgID))
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return &a, nil
}

// UnlinkedAssets returns the assets among ids in the dataset that no item references yet.
func (s *PGStore) UnlinkedAssets(ctx context.Context, orgID, datasetID uuid.UUID, ids []uuid.UUID) ([]models.Asset, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT ` + assetColumns + ` FROM assets
		WHERE org_id = $1 AND dataset_id = $2 AND item_id IS NULL AND id = ANY($3::uuid[])`
	rows, err := s.db.Query(ctx, q, orgID, datasetID, uuidStrings(ids))
	if err != nil {
		return nil, fmt.Errorf("lookup assets: %w", err)
	}
	defer rows.Close()
	var out []models.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAssets inserts pending asset rows.
func (s *PGStore) CreateAssets(ctx context.Context, assets []models.Asset) error {
	const q = `INSERT INTO assets (id, org_id, dataset_id, kind, storage_key, content_type, byte_size, sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	for i := range assets {
		a := &assets[i]
		if err := s.db.QueryRow(ctx, q, a.ID, a.OrgID, a.DatasetID, a.Kind, a.StorageKey,
			a.ContentType, a.ByteSize, a.SHA256).Scan(&a.CreatedAt); err != nil {
			if database.IsUniqueViolation(err) {
				return conflict("storage key already in use")
			}
			return fmt.Errorf("insert asset: %w", err)
		}
	}
	return nil
}

// LinkAssets links every unlinked asset in links in one statement.
func (s *PGStore) LinkAssets(ctx context.Context, orgID, datasetID uuid.UUID, links []AssetLink) (int64, error) {
	if len(links) == 0 {
		return 0, nil
	}
	assetIDs := make([]string, len(links))
	itemIDs := make([]string, len(links))
	for i, l := range links {
		assetIDs[i] = l.AssetID.String()
		itemIDs[i] = l.ItemID.String()
	}
	const q = `UPDATE assets a SET item_id = l.item_id
		FROM unnest($3::uuid[], $4::uuid[]) AS l(asset_id, item_id)
		WHERE a.id = l.asset_id AND a.org_id = $1 AND a.dataset_id = $2 AND a.item_id IS NULL`
	tag, err := s.db.Exec(ctx, q, orgID, datasetID, assetIDs, itemIDs)
	if err != nil {
		return 0, fmt.Errorf("link assets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// InsertItems inserts items with their precomputed ids and timestamps.
func (s *PGStore) InsertItems(ctx context.Context, items []models.Item) error {
	const q = `INSERT INTO items (id, org_id, dataset_id, type, title, summary, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for _, it := range items {
		if _, err := s.db.Exec(ctx, q, it.ID, it.OrgID, it.DatasetID, it.Type, it.Title, it.Summary,
			[]byte(it.Payload), it.CreatedAt); err != nil {
			if database.IsForeignKeyViolation(err) {
				return ErrNotFound
			}
			return fmt.Errorf("insert item: %w", err)
		}
	}
	return nil
}

// InsertAnnotations inserts annotation rows.
func (s *PGStore) InsertAnnotations(ctx context.Context, anns []models.Annotation) error {
	const q = `INSERT INTO annotations (id, org_id, dataset_id, item_id, schema, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	for _, a := range anns {
		if _, err := s.db.Exec(ctx, q, a.ID, a.OrgID, a.DatasetID, a.ItemID, a.Schema, []byte(a.Data), a.CreatedAt); err != nil {
			return fmt.Errorf("insert annotation: %w", err)
		}
	}
	return nil
}

// RecordAudit writes ev on the store's connection.
func (s *PGStore) RecordAudit(ctx context.Context, ev models.AuditEvent) error {
	return audit.Record(ctx, s.db, ev)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
