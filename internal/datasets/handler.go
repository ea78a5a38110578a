// Package datasets serves dataset listing, detail and the item query layer.
package datasets

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// Page limits.
const (
	DefaultLimit = 25
	MaxLimit     = 100
)

// Store is the read side used by Handler. *Repository satisfies it.
type Store interface {
	GetVisible(ctx context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error)
	ListVisible(ctx context.Context, id models.Identity, f DatasetFilter) ([]models.Dataset, error)
	ListItems(ctx context.Context, orgID, datasetID uuid.UUID, f ItemFilter) ([]models.ItemSummary, error)
	ItemTypeCounts(ctx context.Context, orgID, datasetID uuid.UUID) (map[string]int64, error)
}

// DatasetPage is the response of GET /datasets.
type DatasetPage struct {
	Datasets   []models.Dataset `json:"datasets"`
	NextCursor *string          `json:"next_cursor"`
	HasMore    bool             `json:"has_more"`
}

// ItemPage is the response of GET /datasets/:id/items.
type ItemPage struct {
	Items      []models.ItemSummary `json:"items"`
	NextCursor *string              `json:"next_cursor"`
	HasMore    bool                 `json:"has_more"`
}

// TypeCounts is the response of GET /datasets/:id/item-type-counts.
type TypeCounts struct {
	Counts map[string]int64 `json:"counts"`
	Total  int64            `json:"total"`
}

// Handler handles dataset HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a dataset handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the dataset routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/datasets", h.List)
	g.GET("/datasets/:id", h.Get)
	g.GET("/datasets/:id/items", h.ListItems)
	g.GET("/datasets/:id/item-type-counts", h.ItemTypeCounts)
}

// List handles GET /datasets.
func (h *Handler) List(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	limit, after, ok := pageParams(c)
	if !ok {
		return
	}
	f := DatasetFilter{
		Status: c.Query("status"),
		Tag:    c.Query("tag"),
		Query:  c.Query("q"),
		After:  after,
		Limit:  limit,
	}
	switch f.Status {
	case "", models.DatasetStatusDraft, models.DatasetStatusPublished, models.DatasetStatusArchived:
	default:
		response.BadRequest(c, "invalid status")
		return
	}
	rows, err := h.store.ListVisible(c.Request.Context(), id, f)
	if err != nil {
		h.logger.Error("list datasets", zap.Error(err))
		response.Internal(c, "failed to list datasets")
		return
	}
	page := DatasetPage{Datasets: []models.Dataset{}}
	if len(rows) > limit {
		last := rows[limit-1]
		page.NextCursor = cursorString(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		page.HasMore = true
		rows = rows[:limit]
	}
	page.Datasets = append(page.Datasets, rows...)
	response.OK(c, page)
}

// Get handles GET /datasets/:id.
func (h *Handler) Get(c *gin.Context) {
	_, ds, ok := h.resolve(c)
	if !ok {
		return
	}
	response.OK(c, ds)
}

// ListItems handles GET /datasets/:id/items.
func (h *Handler) ListItems(c *gin.Context) {
	id, ds, ok := h.resolve(c)
	if !ok {
		return
	}
	limit, after, ok := pageParams(c)
	if !ok {
		return
	}
	f := ItemFilter{Type: c.Query("type"), Query: c.Query("q"), After: after, Limit: limit}
	if f.CreatedAfter, ok = timeParam(c, "created_after"); !ok {
		return
	}
	if f.CreatedBefore, ok = timeParam(c, "created_before"); !ok {
		return
	}

	page := ItemPage{Items: []models.ItemSummary{}}
	if tag := c.Query("tag"); tag != "" && !ds.HasTag(tag) {
		response.OK(c, page)
		return
	}
	rows, err := h.store.ListItems(c.Request.Context(), id.OrgID, ds.ID, f)
	if err != nil {
		h.logger.Error("list items", zap.String("dataset_id", ds.ID.String()), zap.Error(err))
		response.Internal(c, "failed to list items")
		return
	}
	if len(rows) > limit {
		last := rows[limit-1]
		page.NextCursor = cursorString(Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		page.HasMore = true
		rows = rows[:limit]
	}
	page.Items = append(page.Items, rows...)
	response.OK(c, page)
}

// ItemTypeCounts handles GET /datasets/:id/item-type-counts.
func (h *Handler) ItemTypeCounts(c *gin.Context) {
	id, ds, ok := h.resolve(c)
	if !ok {
		return
	}
	counts, err := h.store.ItemTypeCounts(c.Request.Context(), id.OrgID, ds.ID)
	if err != nil {
		h.logger.Error("count items", zap.String("dataset_id", ds.ID.String()), zap.Error(err))
		response.Internal(c, "failed to count items")
		return
	}
	out := TypeCounts{Counts: counts}
	for _, n := range counts {
		out.Total += n
	}
	response.OK(c, out)
}

func (h *Handler) resolve(c *gin.Context) (models.Identity, *models.Dataset, bool) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return id, nil, false
	}
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dataset id")
		return id, nil, false
	}
	ds, err := h.store.GetVisible(c.Request.Context(), id, datasetID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "not found")
		return id, nil, false
	}
	if err != nil {
		h.logger.Error("get dataset", zap.String("dataset_id", datasetID.String()), zap.Error(err))
		response.Internal(c, "failed to load dataset")
		return id, nil, false
	}
	return id, ds, true
}

func pageParams(c *gin.Context) (int, *Cursor, bool) {
	limit := DefaultLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > MaxLimit {
			response.BadRequest(c, "limit must be between 1 and 100")
			return 0, nil, false
		}
		limit = n
	}
	var after *Cursor
	if s := c.Query("cursor"); s != "" {
		cur, err := DecodeCursor(s)
		if err != nil {
			response.BadRequest(c, "invalid cursor")
			return 0, nil, false
		}
		after = &cur
	}
	return limit, after, true
}

func timeParam(c *gin.Context, name string) (*time.Time, bool) {
	s := c.Query(name)
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		response.BadRequest(c, "invalid "+name)
		return nil, false
	}
	return &t, true
}

func cursorString(c Cursor) *string {
	s := c.Encode()
	return &s
}
