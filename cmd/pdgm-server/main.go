package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/homehealth/pdgm/internal/config"
	"github.com/homehealth/pdgm/internal/domain/oasis"
	"github.com/homehealth/pdgm/internal/domain/pdgm"
	"github.com/homehealth/pdgm/internal/platform/ai"
	"github.com/homehealth/pdgm/internal/platform/cache"
	"github.com/homehealth/pdgm/internal/platform/db"
	"github.com/homehealth/pdgm/internal/platform/middleware"
	"github.com/homehealth/pdgm/internal/platform/openapi"
	"github.com/homehealth/pdgm/internal/platform/phi"
	"github.com/homehealth/pdgm/internal/platform/telemetry"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "pdgm-server",
		Short:        "PDGM reimbursement and OASIS validation server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hippsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(exportCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(w io.Writer, dev bool) zerolog.Logger {
	if dev {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// loadConfig loads and validates configuration for commands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine assembles the PDGM tables from the built-in defaults, the
// optional YAML overrides and the optional Parquet weight table.
func buildEngine(cfg *config.Config) (*pdgm.Engine, error) {
	tables := pdgm.DefaultTables()
	if cfg.PDGMTablesFile != "" {
		t, err := pdgm.LoadTablesFile(tables, cfg.PDGMTablesFile)
		if err != nil {
			return nil, err
		}
		tables = t
	}
	if cfg.PDGMCaseMixParquet != "" {
		weights, err := pdgm.LoadCaseMixParquet(cfg.PDGMCaseMixParquet)
		if err != nil {
			return nil, err
		}
		tables.MergeWeights(weights)
	}
	if err := tables.Validate(); err != nil {
		return nil, fmt.Errorf("invalid PDGM tables: %w", err)
	}
	return pdgm.NewEngine(tables, cfg.PDGMBaseRate), nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	return db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
}

// server holds the wired services. pool, cache and metrics are optional.
type server struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pdgm    *pdgm.Service
	oasis   *oasis.Service
	pool    *pgxpool.Pool
	cache   *cache.Store
	metrics *telemetry.HTTPMetrics
}

func (s *server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(s.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(s.logger))
	if s.metrics != nil {
		e.Use(s.metrics.Middleware())
	}
	e.Use(middleware.SecurityHeaders(s.cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
	}))
	if s.cfg.RequestTimeout > 0 {
		// Document analysis is bounded by the extraction timeout instead.
		e.Use(middleware.RequestTimeout(s.cfg.RequestTimeout, "/health", "/api/v1/oasis/analyses"))
	}
	e.Use(middleware.BodyLimit(s.cfg.BodyLimit))

	apiV1 := e.Group("/api/v1")

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: s.cfg.RateLimitRPS,
		BurstSize:         s.cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	pdgm.NewHandler(s.pdgm).RegisterRoutes(apiV1)
	oasis.NewHandler(s.oasis).RegisterRoutes(apiV1, middleware.BodyLimit(s.cfg.DocumentBodyLimit))

	docs := openapi.NewGenerator("PDGM Reimbursement API", version, "http://localhost:"+s.cfg.Port, "/api/v1", e.Routes)
	describeRoutes(docs)
	docs.RegisterRoutes(apiV1)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if s.pool != nil {
		e.GET("/health/db", db.HealthHandler(s.pool))
	}
	if s.cache != nil {
		e.GET("/health/cache", cache.HealthHandler(s.cache))
	}
	return e
}

// newServices wires the domain services. pool and store may be nil.
func newServices(cfg *config.Config, engine *pdgm.Engine, pool *pgxpool.Pool, store *cache.Store, logger zerolog.Logger) (*pdgm.Service, *oasis.Service, error) {
	key, err := phi.ParseKey(cfg.PHIEncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	// A nil *phi.Cipher must stay a nil interface.
	var cipher oasis.FieldCipher
	if key != nil {
		cipher = key
	} else if pool != nil || store != nil {
		logger.Warn().Msg("PHI encryption disabled: PHI_ENCRYPTION_KEY is not set")
	}

	var (
		calcs   pdgm.CalculationRepository
		reports oasis.ReportRepository
	)
	if pool != nil {
		calcs = pdgm.NewCalculationRepoPG(pool)
		reports = oasis.NewReportRepoPG(pool, cipher)
	}

	pdgmSvc := pdgm.NewService(engine, calcs, logger)
	oasisSvc := oasis.NewService(reports, pdgmSvc, logger)
	oasisSvc.SetCipher(cipher)
	if pool != nil {
		oasisSvc.SetTransactor(db.NewTransactor(pool))
	}
	if store != nil {
		oasisSvc.SetCache(store)
	}

	if cfg.AIEnabled() {
		client, err := ai.NewClient(ai.Config{
			BaseURL:     cfg.AIBaseURL,
			APIKey:      cfg.AIAPIKey,
			Model:       cfg.AIModel,
			Timeout:     cfg.AITimeout,
			MaxAttempts: cfg.AIMaxAttempts,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		oasisSvc.SetExtractor(client)
		// Retries share one deadline with room for backoff.
		oasisSvc.SetExtractTimeout(cfg.AITimeout*time.Duration(cfg.AIMaxAttempts) + 15*time.Second)
	}
	return pdgmSvc, oasisSvc, nil
}

func runServer() error {
	// Logger
	logger := newLogger(os.Stdout, os.Getenv("ENV") == "development")

	// Config
	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()

	// Telemetry
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up telemetry")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()
	httpMetrics, err := telemetry.NewHTTPMetrics(otel.GetMeterProvider(), otel.GetTracerProvider(), otel.GetTextMapPropagator())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create HTTP metrics")
	}

	// PDGM tables
	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load PDGM tables")
	}

	// Database
	pool, err := openPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Extraction cache
	var store *cache.Store
	if cfg.RedisURL != "" {
		store, err = cache.New(ctx, cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, extraction cache disabled")
			store = nil
		} else {
			defer store.Close()
			logger.Info().Msg("connected to redis")
		}
	}

	pdgmSvc, oasisSvc, err := newServices(cfg, engine, pool, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure services")
	}
	if !cfg.AIEnabled() {
		logger.Warn().Msg("AI_API_KEY not set; document analysis is disabled, validation still works")
	}

	srv := &server{
		cfg:     cfg,
		logger:  logger,
		pdgm:    pdgmSvc,
		oasis:   oasisSvc,
		pool:    pool,
		cache:   store,
		metrics: httpMetrics,
	}
	e := srv.routes()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Float64("base_rate", engine.BaseRate()).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
