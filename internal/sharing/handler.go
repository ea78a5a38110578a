// Package sharing lets org admins grant viewers access to datasets.
package sharing

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// Store is the share persistence used by Handler. *Repository satisfies it.
type Store interface {
	DatasetInOrg(ctx context.Context, orgID, datasetID uuid.UUID) (bool, error)
	FindUserByEmail(ctx context.Context, orgID uuid.UUID, email string) (*models.User, error)
	Grant(ctx context.Context, datasetID, userID uuid.UUID, role string) error
	AddPending(ctx context.Context, orgID, datasetID uuid.UUID, email, role string) error
	Revoke(ctx context.Context, datasetID, userID uuid.UUID) (bool, error)
	List(ctx context.Context, orgID, datasetID uuid.UUID) ([]models.DatasetShare, error)
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// ShareRequest is the body for POST /admin/datasets/:id/shares. The email is
// checked after trimming and lowercasing.
type ShareRequest struct {
	Email      string `json:"email" binding:"required"`
	AccessRole string `json:"access_role" binding:"omitempty,oneof=viewer editor"`
}

type shareInput struct {
	Email string `binding:"required,email"`
}

// ShareResponse reports where a share landed.
type ShareResponse struct {
	Email      string     `json:"email"`
	AccessRole string     `json:"access_role"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Pending    bool       `json:"pending"`
}

// Handler handles dataset share HTTP endpoints. All routes are admin only.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a sharing handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// Register mounts the share routes on g behind the admin role.
func (h *Handler) Register(g *gin.RouterGroup) {
	admin := g.Group("/admin", middleware.RequireRole(models.RoleAdmin))
	admin.GET("/datasets/:id/shares", h.List)
	admin.POST("/datasets/:id/shares", h.Add)
	admin.DELETE("/datasets/:id/shares/:userId", h.Remove)
}

// List handles GET /admin/datasets/:id/shares.
func (h *Handler) List(c *gin.Context) {
	id, datasetID, ok := h.dataset(c)
	if !ok {
		return
	}
	shares, err := h.store.List(c.Request.Context(), id.OrgID, datasetID)
	if err != nil {
		h.logger.Error("list shares", zap.Error(err))
		response.Internal(c, "failed to load shares")
		return
	}
	response.OK(c, shares)
}

// Add handles POST /admin/datasets/:id/shares. Members of the org get direct
// access; unknown emails become pending shares. Repeating a share is a no-op
// apart from updating its role.
func (h *Handler) Add(c *gin.Context) {
	id, datasetID, ok := h.dataset(c)
	if !ok {
		return
	}
	var body ShareRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "valid email required")
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if err := binding.Validator.ValidateStruct(shareInput{Email: email}); err != nil {
		response.BadRequest(c, "valid email required")
		return
	}
	role := body.AccessRole
	if role == "" {
		role = models.AccessRoleViewer
	}
	ctx := c.Request.Context()
	user, err := h.store.FindUserByEmail(ctx, id.OrgID, email)
	if err != nil {
		h.logger.Error("find share user", zap.Error(err))
		response.Internal(c, "failed to share dataset")
		return
	}
	out := ShareResponse{Email: email, AccessRole: role}
	if user != nil {
		err = h.store.Grant(ctx, datasetID, user.ID, role)
		out.UserID = &user.ID
	} else {
		err = h.store.AddPending(ctx, id.OrgID, datasetID, email, role)
		out.Pending = true
	}
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "not found")
		return
	}
	if err != nil {
		h.logger.Error("share dataset", zap.Error(err))
		response.Internal(c, "failed to share dataset")
		return
	}
	h.audit(ctx, id, audit.EventShareAdded, map[string]any{
		"dataset_id":  datasetID.String(),
		"email":       email,
		"access_role": role,
		"pending":     out.Pending,
	})
	response.OK(c, out)
}

// Remove handles DELETE /admin/datasets/:id/shares/:userId.
func (h *Handler) Remove(c *gin.Context) {
	id, datasetID, ok := h.dataset(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	ctx := c.Request.Context()
	removed, err := h.store.Revoke(ctx, datasetID, userID)
	if err != nil {
		h.logger.Error("revoke share", zap.Error(err))
		response.Internal(c, "failed to remove share")
		return
	}
	if removed {
		h.audit(ctx, id, audit.EventShareRemoved, map[string]any{
			"dataset_id": datasetID.String(),
			"user_id":    userID.String(),
		})
	}
	response.NoContent(c)
}

func (h *Handler) dataset(c *gin.Context) (models.Identity, uuid.UUID, bool) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return id, uuid.Nil, false
	}
	datasetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid dataset id")
		return id, uuid.Nil, false
	}
	exists, err := h.store.DatasetInOrg(c.Request.Context(), id.OrgID, datasetID)
	if err != nil {
		h.logger.Error("check dataset", zap.Error(err))
		response.Internal(c, "failed to load dataset")
		return id, uuid.Nil, false
	}
	if !exists {
		response.NotFound(c, "not found")
		return id, uuid.Nil, false
	}
	return id, datasetID, true
}

func (h *Handler) audit(ctx context.Context, id models.Identity, eventType string, data map[string]any) {
	if err := h.store.RecordAudit(ctx, audit.NewEvent(ctx, id, eventType, data)); err != nil {
		h.logger.Warn("audit "+eventType, zap.Error(err))
	}
}
