// Package server assembles the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/rushilcs/data-viewer/internal/assets"
	"github.com/rushilcs/data-viewer/internal/audit"
	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/ingest"
	"github.com/rushilcs/data-viewer/internal/items"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/sharing"
	"github.com/rushilcs/data-viewer/pkg/response"
)

// Handlers are the feature handlers mounted under /api.
type Handlers struct {
	Datasets *datasets.Handler
	Items    *items.Handler
	Assets   *assets.Handler
	Ingest   *ingest.Handler
	Sharing  *sharing.Handler
}

// Options configures the router.
type Options struct {
	ServiceName        string
	CORSAllowedOrigins []string
	IngestEnabled      bool
	RateLimitPerMinute int
	MetricsSecret      string
}

// batchAlias is the documented path of the batch upload endpoint. gin cannot
// register a literal colon inside a segment, so it is rewritten before routing.
const (
	batchAlias = "/api/ingest/assets:batch"
	batchRoute = "/api/ingest/assets/batch"
)

// New builds the router. counter may be nil, which disables rate limiting.
func New(h Handlers, validator middleware.TokenValidator, counter middleware.Counter, opts Options, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	router := gin.New()
	if opts.ServiceName != "" {
		router.Use(otelgin.Middleware(opts.ServiceName))
	}
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(opts.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(audit.Capture())

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", middleware.MetricsSecret(opts.MetricsSecret), gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	// Grant-authenticated callbacks: the token in the query string is the credential.
	h.Ingest.RegisterUpload(api.Group("/ingest", middleware.IngestEnabled(opts.IngestEnabled)))
	h.Assets.RegisterStream(api)

	authed := api.Group("", middleware.Auth(validator))
	h.Datasets.Register(authed)
	h.Items.Register(authed)
	h.Assets.Register(authed)
	h.Sharing.Register(authed)
	h.Ingest.Register(authed.Group("/ingest",
		middleware.IngestEnabled(opts.IngestEnabled),
		middleware.RateLimit(counter, "ingest", opts.RateLimitPerMinute, time.Minute, logger),
	))

	router.NoRoute(func(c *gin.Context) { response.NotFound(c, "not found") })
	return rewriteAliases(router)
}

func rewriteAliases(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == batchAlias {
			r.URL.Path = batchRoute
			r.URL.RawPath = ""
		}
		next.ServeHTTP(w, r)
	})
}
