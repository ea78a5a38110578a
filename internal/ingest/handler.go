package ingest

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/grants"
	"github.com/rushilcs/data-viewer/internal/manifest"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// BatchRequest is the body for POST /ingest/assets:batch.
type BatchRequest struct {
	DatasetID string     `json:"dataset_id" binding:"required,uuid"`
	Files     []FileSpec `json:"files"`
}

// BatchResponse lists one upload grant per requested file, in request order.
type BatchResponse struct {
	Assets []UploadGrant `json:"assets"`
}

// CreateDatasetResponse is returned by POST /ingest/datasets.
type CreateDatasetResponse struct {
	DatasetID uuid.UUID `json:"dataset_id"`
	Status    string    `json:"status"`
}

// Handler handles ingest HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an ingest handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the identity-authenticated routes on g. The archive route
// additionally requires the admin role.
func (h *Handler) Register(g *gin.RouterGroup) {
	manage := middleware.RequireRole(models.RoleAdmin, models.RolePublisher)
	g.POST("/datasets", manage, h.CreateDataset)
	g.POST("/assets/batch", manage, h.IssueUploadGrants)
	g.POST("/datasets/:id/publish", manage, h.Publish)
	g.POST("/datasets/:id/append", manage, h.Append)
	g.POST("/datasets/:id/archive", middleware.RequireRole(models.RoleAdmin), h.Archive)
}

// RegisterUpload mounts the grant-authenticated local upload route on g.
func (h *Handler) RegisterUpload(g *gin.RouterGroup) {
	g.PUT("/assets/:id/upload", h.Upload)
}

// CreateDataset handles POST /ingest/datasets.
func (h *Handler) CreateDataset(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	var req CreateDatasetInput
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	d, err := h.svc.CreateDataset(c.Request.Context(), id, req)
	if err != nil {
		h.writeError(c, err, "failed to create dataset")
		return
	}
	response.Created(c, CreateDatasetResponse{DatasetID: d.ID, Status: d.Status})
}

// IssueUploadGrants handles POST /ingest/assets:batch.
func (h *Handler) IssueUploadGrants(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	grantsOut, err := h.svc.IssueUploadGrants(c.Request.Context(), id, uuid.MustParse(req.DatasetID), req.Files)
	if err != nil {
		h.writeError(c, err, "failed to issue upload grants")
		return
	}
	response.Created(c, BatchResponse{Assets: grantsOut})
}

// Upload handles PUT /ingest/assets/:id/upload?token= in local storage mode.
func (h *Handler) Upload(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid asset id")
		return
	}
	token := c.Query("token")
	if token == "" {
		response.Forbidden(c, "missing upload token")
		return
	}
	if err := h.svc.Upload(c.Request.Context(), assetID, token, c.Request.Body, c.Request.ContentLength); err != nil {
		h.writeError(c, err, "failed to store upload")
		return
	}
	response.NoContent(c)
}

// Publish handles POST /ingest/datasets/:id/publish.
func (h *Handler) Publish(c *gin.Context) {
	h.commit(c, h.svc.Publish)
}

// Append handles POST /ingest/datasets/:id/append.
func (h *Handler) Append(c *gin.Context) {
	h.commit(c, h.svc.Append)
}

type commitFunc func(ctx context.Context, id models.Identity, datasetID uuid.UUID, m manifest.Manifest) (*Result, error)

func (h *Handler) commit(c *gin.Context, fn commitFunc) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dataset id")
		return
	}
	var m manifest.Manifest
	if err := c.ShouldBindJSON(&m); err != nil {
		response.BadRequest(c, "invalid manifest: "+err.Error())
		return
	}
	res, err := fn(c.Request.Context(), id, datasetID, m)
	if err != nil {
		h.writeError(c, err, "failed to commit manifest")
		return
	}
	response.OK(c, res)
}

// Archive handles POST /ingest/datasets/:id/archive.
func (h *Handler) Archive(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dataset id")
		return
	}
	res, err := h.svc.Archive(c.Request.Context(), id, datasetID)
	if err != nil {
		h.writeError(c, err, "failed to archive dataset")
		return
	}
	response.OK(c, res)
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	var verr *manifest.ValidationError
	var ferr *FileSpecError
	var cerr *ConflictError
	switch {
	case errors.As(err, &verr):
		response.UnprocessableEntity(c, "manifest validation failed", verr.Errors)
	case errors.As(err, &ferr):
		response.UnprocessableEntity(c, "invalid file specs", ferr.Errors)
	case errors.As(err, &cerr):
		response.Conflict(c, cerr.Reason)
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, "not found")
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrSizeMismatch):
		response.UnprocessableEntity(c, "upload rejected", []schema.FieldError{{
			Path:    "body",
			Type:    schema.ErrAssetSizeMismatch,
			Message: err.Error(),
		}})
	case errors.Is(err, grants.ErrInvalidGrant), errors.Is(err, grants.ErrExpiredGrant),
		errors.Is(err, grants.ErrWrongOp), errors.Is(err, grants.ErrWrongAsset):
		response.Forbidden(c, "invalid or expired upload token")
	default:
		h.logger.Error(msg, zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, msg)
	}
}
