package datasets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/database"
)

// ErrNotFound is returned for datasets that are missing or not visible to the caller.
var ErrNotFound = errors.New("not found")

// Search modes.
const (
	SearchILike = "ilike"
	SearchFTS   = "fts"
)

// DatasetFilter narrows a dataset listing.
type DatasetFilter struct {
	Status string
	Tag    string
	Query  string
	After  *Cursor
	Limit  int
}

// ItemFilter narrows an item listing.
type ItemFilter struct {
	Type          string
	Query         string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	After         *Cursor
	Limit         int
}

// Repository handles dataset reads scoped by caller visibility.
type Repository struct {
	db         database.DBTX
	searchMode string
}

// NewRepository creates a datasets repository. An unknown search mode falls back to ILIKE.
func NewRepository(db database.DBTX, searchMode string) *Repository {
	if searchMode != SearchFTS {
		searchMode = SearchILike
	}
	return &Repository{db: db, searchMode: searchMode}
}

type queryBuilder struct {
	where []string
	args  []any
}

func (b *queryBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func (b *queryBuilder) and(cond string) {
	b.where = append(b.where, cond)
}

func (b *queryBuilder) clause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

// visible restricts alias (a datasets row) to what id may see. Admins and
// publishers see the whole org; viewers see published datasets shared with
// them directly or through a pending share for their email.
func (b *queryBuilder) visible(alias string, id models.Identity) {
	b.and(alias + ".org_id = " + b.arg(id.OrgID))
	if id.CanManage() {
		return
	}
	b.and(alias + ".status = '" + models.DatasetStatusPublished + "'")
	uid := b.arg(id.UserID)
	email := b.arg(id.Email)
	b.and(fmt.Sprintf(`(EXISTS (SELECT 1 FROM dataset_access da WHERE da.dataset_id = %[1]s.id AND da.user_id = %[2]s)
		OR EXISTS (SELECT 1 FROM pending_dataset_shares ps
			WHERE ps.dataset_id = %[1]s.id AND ps.org_id = %[1]s.org_id AND %[3]s <> '' AND lower(ps.email) = lower(%[3]s)))`,
		alias, uid, email))
}

func (b *queryBuilder) keyset(alias string, c *Cursor) {
	if c == nil {
		return
	}
	b.and(fmt.Sprintf("(%[1]s.created_at, %[1]s.id) < (%s, %s)", alias, b.arg(c.CreatedAt), b.arg(c.ID)))
}

const datasetColumns = `d.id, d.org_id, d.name, d.description, d.tags, d.status, d.created_by_user_id, d.created_at, d.published_at`

func scanDataset(row pgx.Row) (*models.Dataset, error) {
	var d models.Dataset
	if err := row.Scan(&d.ID, &d.OrgID, &d.Name, &d.Description, &d.Tags, &d.Status,
		&d.CreatedByUserID, &d.CreatedAt, &d.PublishedAt); err != nil {
		return nil, err
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	return &d, nil
}

// Create inserts a draft dataset on db and fills its id and timestamps.
func Create(ctx context.Context, db database.DBTX, d *models.Dataset) error {
	if d.Tags == nil {
		d.Tags = []string{}
	}
	const q = `INSERT INTO datasets (org_id, name, description, tags, status, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	d.Status = models.DatasetStatusDraft
	if err := db.QueryRow(ctx, q, d.OrgID, d.Name, d.Description, d.Tags, d.Status, d.CreatedByUserID).
		Scan(&d.ID, &d.CreatedAt); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// GetVisible returns the dataset if id may see it, else ErrNotFound.
func (r *Repository) GetVisible(ctx context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error) {
	b := &queryBuilder{}
	b.and("d.id = " + b.arg(datasetID))
	b.visible("d", id)
	q := "SELECT " + datasetColumns + " FROM datasets d" + b.clause()
	d, err := scanDataset(r.db.QueryRow(ctx, q, b.args...))
	if database.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset: %w", err)
	}
	return d, nil
}

// ListVisible returns up to f.Limit+1 visible datasets, newest first.
func (r *Repository) ListVisible(ctx context.Context, id models.Identity, f DatasetFilter) ([]models.Dataset, error) {
	b := &queryBuilder{}
	b.visible("d", id)
	if f.Status != "" {
		b.and("d.status = " + b.arg(f.Status))
	}
	if f.Tag != "" {
		b.and(b.arg(f.Tag) + " = ANY(d.tags)")
	}
	if f.Query != "" {
		p := b.arg(likePattern(f.Query))
		b.and("(d.name ILIKE " + p + " OR coalesce(d.description, '') ILIKE " + p + ")")
	}
	b.keyset("d", f.After)
	q := "SELECT " + datasetColumns + " FROM datasets d" + b.clause() +
		" ORDER BY d.created_at DESC, d.id DESC LIMIT " + b.arg(f.Limit+1)

	rows, err := r.db.Query(ctx, q, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()
	var out []models.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ListItems returns up to f.Limit+1 item summaries of a dataset, newest first.
// Callers must have checked visibility of the dataset.
func (r *Repository) ListItems(ctx context.Context, orgID, datasetID uuid.UUID, f ItemFilter) ([]models.ItemSummary, error) {
	b := &queryBuilder{}
	b.and("i.org_id = " + b.arg(orgID))
	b.and("i.dataset_id = " + b.arg(datasetID))
	if f.Type != "" {
		b.and("i.type = " + b.arg(f.Type))
	}
	if f.Query != "" {
		if r.searchMode == SearchFTS {
			b.and("i.search_tsv @@ plainto_tsquery('english', " + b.arg(f.Query) + ")")
		} else {
			p := b.arg(likePattern(f.Query))
			b.and("(coalesce(i.title, '') ILIKE " + p + " OR coalesce(i.summary, '') ILIKE " + p + " OR i.payload::text ILIKE " + p + ")")
		}
	}
	if f.CreatedAfter != nil {
		b.and("i.created_at > " + b.arg(*f.CreatedAfter))
	}
	if f.CreatedBefore != nil {
		b.and("i.created_at < " + b.arg(*f.CreatedBefore))
	}
	b.keyset("i", f.After)
	q := "SELECT i.id, i.type, i.title, i.summary, i.created_at FROM items i" + b.clause() +
		" ORDER BY i.created_at DESC, i.id DESC LIMIT " + b.arg(f.Limit+1)

	rows, err := r.db.Query(ctx, q, b.args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()
	var out []models.ItemSummary
	for rows.Next() {
		var it models.ItemSummary
		if err := rows.Scan(&it.ID, &it.Type, &it.Title, &it.Summary, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ItemTypeCounts returns the number of items per type in a dataset.
func (r *Repository) ItemTypeCounts(ctx context.Context, orgID, datasetID uuid.UUID) (map[string]int64, error) {
	const q = `SELECT type, COUNT(*) FROM items WHERE org_id = $1 AND dataset_id = $2 GROUP BY type`
	rows, err := r.db.Query(ctx, q, orgID, datasetID)
	if err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	defer rows.Close()
	counts := map[string]int64{}
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(q) + "%"
}
