// Package items serves item detail with asset metadata and normalized annotations.
package items

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// Store is the item persistence used by Handler. *Repository satisfies it.
type Store interface {
	GetItem(ctx context.Context, orgID, itemID uuid.UUID) (*models.Item, error)
	ListAssets(ctx context.Context, orgID, itemID uuid.UUID) ([]models.AssetSummary, error)
	ListAnnotations(ctx context.Context, orgID, itemID uuid.UUID) ([]models.Annotation, error)
}

// DatasetFinder resolves datasets under the caller's visibility rules.
type DatasetFinder interface {
	GetVisible(ctx context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error)
}

// Detail is the response of GET /items/:id.
type Detail struct {
	models.Item
	Assets          []models.AssetSummary   `json:"assets"`
	Annotations     []models.Annotation     `json:"annotations"`
	TimelineEvents  []schema.TimelineEvent  `json:"timeline_events,omitempty"`
	CaptionSegments []schema.CaptionSegment `json:"caption_segments,omitempty"`
}

// Handler handles item HTTP endpoints.
type Handler struct {
	store    Store
	datasets DatasetFinder
	logger   *zap.Logger
}

// NewHandler creates an item handler.
func NewHandler(store Store, finder DatasetFinder, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, datasets: finder, logger: logger}
}

// Register mounts the item routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.GET("/items/:id", h.Get)
}

// Get handles GET /items/:id.
func (h *Handler) Get(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid item id")
		return
	}
	ctx := c.Request.Context()
	it, err := h.store.GetItem(ctx, id.OrgID, itemID)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "not found")
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.datasets.GetVisible(ctx, id, it.DatasetID); err != nil {
		if errors.Is(err, datasets.ErrNotFound) {
			response.NotFound(c, "not found")
			return
		}
		h.fail(c, err)
		return
	}

	d := Detail{Item: *it}
	if d.Assets, err = h.store.ListAssets(ctx, id.OrgID, it.ID); err != nil {
		h.fail(c, err)
		return
	}
	if d.Annotations, err = h.store.ListAnnotations(ctx, id.OrgID, it.ID); err != nil {
		h.fail(c, err)
		return
	}
	for _, a := range d.Annotations {
		switch a.Schema {
		case schema.AnnotationTimelineV1:
			d.TimelineEvents = append(d.TimelineEvents, schema.NormalizeTimeline(a.Data)...)
		case schema.AnnotationCaptionsV1:
			d.CaptionSegments = append(d.CaptionSegments, schema.NormalizeCaptions(a.Data)...)
		}
	}
	response.OK(c, d)
}

func (h *Handler) fail(c *gin.Context, err error) {
	h.logger.Error("item detail", zap.String("item_id", c.Param("id")), zap.Error(err))
	response.Internal(c, "failed to load item")
}
