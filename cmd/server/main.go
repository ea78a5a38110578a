// Package main runs the data-viewer HTTP server and its operational commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rushilcs/data-viewer/config"
	"github.com/rushilcs/data-viewer/internal/assets"
	"github.com/rushilcs/data-viewer/internal/auth"
	"github.com/rushilcs/data-viewer/internal/datasets"
	"github.com/rushilcs/data-viewer/internal/grants"
	"github.com/rushilcs/data-viewer/internal/ingest"
	"github.com/rushilcs/data-viewer/internal/items"
	"github.com/rushilcs/data-viewer/internal/manifest"
	"github.com/rushilcs/data-viewer/internal/middleware"
	"github.com/rushilcs/data-viewer/internal/models"
	"github.com/rushilcs/data-viewer/internal/reconcile"
	"github.com/rushilcs/data-viewer/internal/schema"
	"github.com/rushilcs/data-viewer/internal/server"
	"github.com/rushilcs/data-viewer/internal/sharing"
	"github.com/rushilcs/data-viewer/pkg/database"
	"github.com/rushilcs/data-viewer/pkg/redis"
	"github.com/rushilcs/data-viewer/pkg/storage"
	"github.com/rushilcs/data-viewer/pkg/tracing"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "data-viewer",
		Short:        "Multi-tenant dataset ingestion and viewing service",
		SilenceUsage: true,
		RunE:         func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  func(cmd *cobra.Command, _ []string) error { return serve(cmd.Context()) },
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			pool, err := openPool(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(cmd.Context(), pool, logger)
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		orgID  string
		role   string
		email  string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token for local testing",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if !cfg.IsDev() {
				return errors.New("token minting is only available in dev")
			}
			id := models.Identity{Role: role, Email: email}
			if id.UserID, err = parseOrNew(userID); err != nil {
				return fmt.Errorf("user: %w", err)
			}
			if id.OrgID, err = parseOrNew(orgID); err != nil {
				return fmt.Errorf("org: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.DevTTL
			}
			tok, err := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Generate(id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id (random when empty)")
	cmd.Flags().StringVar(&orgID, "org", "", "organization id (random when empty)")
	cmd.Flags().StringVar(&role, "role", models.RoleAdmin, "admin, publisher or viewer")
	cmd.Flags().StringVar(&email, "email", "", "email carried by the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (AUTH_DEV_TOKEN_TTL when zero)")
	return cmd
}

func parseOrNew(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, newLogger(), nil
}

func openPool(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	return database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.Tracing.ServiceName,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool, logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	objects, err := storage.Open(ctx, storage.Config{
		Backend:  cfg.Storage.Backend,
		LocalDir: cfg.Storage.LocalDir,
		S3: storage.S3Config{
			Region:          cfg.Storage.S3Region,
			AccessKeyID:     cfg.Storage.S3AccessKeyID,
			SecretAccessKey: cfg.Storage.S3SecretAccessKey,
			Bucket:          cfg.Storage.S3Bucket,
			Endpoint:        cfg.Storage.S3Endpoint,
			UsePathStyle:    cfg.Storage.S3UsePathStyle,
		},
		GCS: storage.GCSConfig{
			Bucket:          cfg.Storage.GCSBucket,
			CredentialsFile: cfg.Storage.GCSCredentialsFile,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c, ok := objects.(io.Closer); ok {
		defer c.Close()
	}

	signer, err := grants.NewSigner(cfg.Grants.Secret, nil)
	if err != nil {
		return err
	}

	// A missing or unreachable Redis disables rate limiting rather than blocking startup.
	var counter middleware.Counter
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("rate limiting disabled", zap.Error(err))
		} else {
			defer rdb.Close()
			counter = rdb
		}
	}

	// Ingest
	ingestStore := ingest.NewPGStore(pool)
	validator := manifest.NewValidator(schema.Default(), ingestStore,
		reconcile.New(objects, cfg.Ingest.ReconcileConcurrency, logger))
	ingestSvc := ingest.NewService(ingestStore, ingest.NewUnitOfWork(database.NewTxRunner(pool)), validator, objects, signer, ingest.Options{
		UploadTTL:     cfg.Grants.UploadTTL,
		PublicBaseURL: cfg.Server.PublicBaseURL,
		MaxFiles:      cfg.Ingest.MaxFilesPerBatch,
	}, logger)

	// Read side
	datasetRepo := datasets.NewRepository(pool, strings.ToLower(cfg.Search.Mode))
	handlers := server.Handlers{
		Datasets: datasets.NewHandler(datasetRepo, logger),
		Items:    items.NewHandler(items.NewRepository(pool), datasetRepo, logger),
		Assets: assets.NewHandler(assets.NewRepository(pool), datasetRepo, objects, signer, assets.Options{
			ReadTTL:       cfg.Grants.ReadTTL,
			CacheSize:     cfg.Grants.CacheSize,
			CacheSkew:     cfg.Grants.CacheSkew,
			PublicBaseURL: cfg.Server.PublicBaseURL,
		}, logger),
		Ingest:  ingest.NewHandler(ingestSvc, logger),
		Sharing: sharing.NewHandler(sharing.NewRepository(pool), logger),
	}

	router := server.New(handlers, auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer), counter, server.Options{
		ServiceName:        cfg.Tracing.ServiceName,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
		IngestEnabled:      cfg.Ingest.Enabled,
		RateLimitPerMinute: cfg.Ingest.RateLimitPerMinute,
		MetricsSecret:      cfg.Metrics.Secret,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("port", cfg.Server.Port),
			zap.String("storage", objects.Name()),
			zap.Bool("ingest_enabled", cfg.Ingest.Enabled),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Error("server", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
