// Package assets mints short-lived read URLs for assets and, in local
// storage mode, streams the bytes behind them.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/grants"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/pkg/metrics"
	"github.com/rushilcs/data-viewer/pkg/response"
	"github.com/rushilcs/data-viewer/pkg/storage"
)

// StreamRoute is the local-mode read callback, relative to the public base URL.
const StreamRoute = "/api/assets/%s/stream"

// Store is the asset persistence used by Handler. *Repository satisfies it.
type Store interface {
	GetAsset(ctx context.Context, orgID, assetID uuid.UUID) (*models.Asset, error)
	RecordAudit(ctx context.Context, ev models.AuditEvent) error
}

// DatasetFinder resolves datasets under the caller's visibility rules.
type DatasetFinder interface {
	GetVisible(ctx context.Context, id models.Identity, datasetID uuid.UUID) (*models.Dataset, error)
}

// Options tunes a Handler.
type Options struct {
	ReadTTL       time.Duration
	CacheSize     int
	CacheSkew     time.Duration
	PublicBaseURL string
	Now           func() time.Time
}

// SignedURL is the response of POST /assets/:id/signed-url.
type SignedURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type cacheKey struct {
	assetID uuid.UUID
	userID  uuid.UUID
}

// Handler handles asset read endpoints.
type Handler struct {
	store    Store
	datasets DatasetFinder
	objects  storage.Backend
	signer   *grants.Signer
	cache    *expirable.LRU[cacheKey, SignedURL]
	opts     Options
	logger   *zap.Logger
}

// NewHandler creates an asset handler with a bounded read-grant cache.
func NewHandler(store Store, finder DatasetFinder, objects storage.Backend, signer *grants.Signer, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReadTTL <= 0 {
		opts.ReadTTL = 5 * time.Minute
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10000
	}
	if opts.CacheSkew <= 0 {
		opts.CacheSkew = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		store:    store,
		datasets: finder,
		objects:  objects,
		signer:   signer,
		cache:    expirable.NewLRU[cacheKey, SignedURL](opts.CacheSize, nil, opts.ReadTTL),
		opts:     opts,
		logger:   logger,
	}
}

// Register mounts the identity-authenticated routes on g.
func (h *Handler) Register(g *gin.RouterGroup) {
	g.POST("/assets/:id/signed-url", h.SignedURL)
}

// RegisterStream mounts the grant-authenticated stream route on g.
func (h *Handler) RegisterStream(g *gin.RouterGroup) {
	g.GET("/assets/:id/stream", h.Stream)
}

// SignedURL handles POST /assets/:id/signed-url.
func (h *Handler) SignedURL(c *gin.Context) {
	id, ok := middleware.MustIdentity(c)
	if !ok {
		return
	}
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid asset id")
		return
	}
	ctx := c.Request.Context()
	a, err := h.resolve(ctx, id, assetID)
	if err != nil {
		h.writeResolveError(c, err)
		return
	}

	key := cacheKey{assetID: a.ID, userID: id.UserID}
	if cached, ok := h.cache.Get(key); ok && cached.ExpiresAt.Sub(h.opts.Now()) >= h.opts.CacheSkew {
		metrics.GrantsMinted.WithLabelValues(grants.OpGet, "true").Inc()
		response.OK(c, cached)
		return
	}

	out, err := h.mint(ctx, id, a)
	if err != nil {
		h.logger.Error("mint read url", zap.String("asset_id", a.ID.String()), zap.Error(err))
		response.Internal(c, "failed to sign asset url")
		return
	}
	h.cache.Add(key, out)
	metrics.GrantsMinted.WithLabelValues(grants.OpGet, "false").Inc()
	if err := h.store.RecordAudit(ctx, audit.NewEvent(ctx, id, audit.EventMintAssetURL, map[string]any{
		"asset_id":   a.ID.String(),
		"dataset_id": a.DatasetID.String(),
		"url":        out.URL,
	})); err != nil {
		h.logger.Warn("audit mint_asset_url", zap.Error(err))
	}
	response.OK(c, out)
}

// resolve returns the asset when it is in id's org and its dataset is visible to id.
func (h *Handler) resolve(ctx context.Context, id models.Identity, assetID uuid.UUID) (*models.Asset, error) {
	a, err := h.store.GetAsset(ctx, id.OrgID, assetID)
	if err != nil {
		return nil, err
	}
	if _, err := h.datasets.GetVisible(ctx, id, a.DatasetID); err != nil {
		if errors.Is(err, datasets.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (h *Handler) writeResolveError(c *gin.Context, err error) {
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "not found")
		return
	}
	h.logger.Error("resolve asset", zap.Error(err))
	response.Internal(c, "failed to load asset")
}

func (h *Handler) mint(ctx context.Context, id models.Identity, a *models.Asset) (SignedURL, error) {
	if p, ok := h.objects.(storage.Presigner); ok {
		exp := h.opts.Now().Add(h.opts.ReadTTL)
		u, err := p.PresignGet(ctx, a.StorageKey, h.opts.ReadTTL)
		if err != nil {
			return SignedURL{}, fmt.Errorf("presign read: %w", err)
		}
		return SignedURL{URL: u, ExpiresAt: exp}, nil
	}
	token, exp, err := h.signer.Mint(grants.Claims{
		AssetID: a.ID,
		OrgID:   a.OrgID,
		UserID:  id.UserID,
		Op:      grants.OpGet,
		Role:    id.Role,
		Email:   id.Email,
	}, h.opts.ReadTTL)
	if err != nil {
		return SignedURL{}, err
	}
	u, err := storage.CallbackURL(h.opts.PublicBaseURL, fmt.Sprintf(StreamRoute, a.ID), storage.CallbackQuery{Token: token})
	if err != nil {
		return SignedURL{}, err
	}
	return SignedURL{URL: u, ExpiresAt: exp}, nil
}

// Stream handles GET /assets/:id/stream?token= in local storage mode.
func (h *Handler) Stream(c *gin.Context) {
	assetID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid asset id")
		return
	}
	claims, err := h.signer.Verify(c.Query("token"), grants.OpGet, assetID)
	if err != nil {
		metrics.GrantRejections.WithLabelValues(grants.Reason(err)).Inc()
		response.Forbidden(c, "invalid or expired token")
		return
	}
	ctx := c.Request.Context()
	id := models.Identity{UserID: claims.UserID, OrgID: claims.OrgID, Role: claims.Role, Email: claims.Email}
	a, err := h.resolve(ctx, id, assetID)
	if err != nil {
		h.writeResolveError(c, err)
		return
	}
	body, info, err := h.objects.Get(ctx, a.StorageKey)
	if errors.Is(err, storage.ErrObjectNotFound) {
		response.NotFound(c, "not found")
		return
	}
	if err != nil {
		h.logger.Error("open asset", zap.String("asset_id", a.ID.String()), zap.Error(err))
		response.Internal(c, "failed to read asset")
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusOK, info.Size, a.ContentType, body, map[string]string{
		"Cache-Control":          "private, no-store",
		"Content-Disposition":    "inline; filename=" + strconv.Quote(displayName(a.StorageKey)),
		"X-Content-Type-Options": "nosniff",
	})
}

// displayName strips the unique prefix from the last storage key segment.
func displayName(key string) string {
	name := path.Base(key)
	if i := strings.IndexByte(name, '_'); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}
