package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ehr/inpatient/internal/config"
	"github.com/ehr/inpatient/internal/domain/admission"
	"github.com/ehr/inpatient/internal/domain/bed"
	"github.com/ehr/inpatient/internal/domain/occupancy"
	"github.com/ehr/inpatient/internal/domain/ward"
	"github.com/ehr/inpatient/internal/platform/auth"
	"github.com/ehr/inpatient/internal/platform/billing"
	"github.com/ehr/inpatient/internal/platform/cache"
	"github.com/ehr/inpatient/internal/platform/db"
	"github.com/ehr/inpatient/internal/platform/directory"
	"github.com/ehr/inpatient/internal/platform/metrics"
	"github.com/ehr/inpatient/internal/platform/middleware"
	"github.com/ehr/inpatient/internal/store/memory"
)

// backend bundles the repositories and unit-of-work runner for one
// storage choice.
type backend struct {
	wards      ward.Repository
	beds       bed.Repository
	admissions admission.Repository
	tx         admission.TxManager
	pool       *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		st := memory.New()
		logger.Warn().Msg("using in-memory store; data is lost on exit")
		return &backend{wards: st.Wards(), beds: st.Beds(), admissions: st.Admissions(), tx: st}, nil
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, poolConfig(cfg))
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to database")
		return &backend{
			wards:      ward.NewRepo(pool),
			beds:       bed.NewRepo(pool),
			admissions: admission.NewRepo(pool),
			tx: db.NewTxManager(pool, db.TxOptions{
				MaxAttempts: cfg.TxMaxAttempts,
				BaseDelay:   cfg.TxRetryBaseDelay,
			}, logger),
			pool: pool,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func (b *backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}

// newCache prefers Redis when configured so directory lookups are shared
// across replicas.
func newCache(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (cache.Cache, func() error, error) {
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL, "inpatient")
		if err != nil {
			return nil, nil, err
		}
		logger.Info().Msg("directory cache: redis")
		return rc, rc.Close, nil
	}
	mc := cache.NewMemoryCache(time.Minute)
	return mc, mc.Close, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer be.Close()

	dirCache, closeCache, err := newCache(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to cache")
		return err
	}
	defer func() { _ = closeCache() }()

	// Services
	wardSvc := ward.NewService(be.wards, logger)
	bedSvc := bed.NewService(be.beds, be.wards, be.tx, logger)
	engine := admission.NewEngine(be.admissions, be.wards, be.beds, be.tx, logger, admission.Options{
		EnforceCapacity:   cfg.EnforceWardCapacity,
		AllowedStaffRoles: cfg.StaffAllowedRoles,
	})
	reporter := occupancy.NewReporter(be.wards, be.beds, be.admissions, logger)

	if cfg.PatientDirectoryURL != "" || cfg.StaffDirectoryURL != "" {
		dir := directory.New(directory.Config{
			PatientBaseURL: cfg.PatientDirectoryURL,
			StaffBaseURL:   cfg.StaffDirectoryURL,
			CacheTTL:       cfg.DirectoryCacheTTL,
			RetryCount:     cfg.DirectoryRetryCount,
		}, dirCache, logger)
		if cfg.PatientDirectoryURL != "" {
			engine.SetPatientDirectory(dir)
		}
		if cfg.StaffDirectoryURL != "" {
			engine.SetStaffDirectory(dir)
		}
	}

	var hook *billing.Webhook
	if cfg.BillingWebhookURL != "" {
		hook = billing.NewWebhook(billing.WebhookConfig{
			URL:    cfg.BillingWebhookURL,
			Secret: cfg.BillingWebhookSecret,
		}, logger)
		engine.SetBillingNotifier(hook)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, "X-Tenant-ID"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "store": cfg.StoreBackend})
	})
	if be.pool != nil {
		e.GET("/health/db", db.HealthHandler(be.pool))
	}
	e.GET("/metrics", metrics.Handler())

	bodyLimit, err := middleware.ParseByteSize(cfg.BodyLimit)
	if err != nil {
		return fmt.Errorf("BODY_LIMIT: %w", err)
	}

	// Rate limiting and audit run after authentication so they see the
	// caller's tenant and identity.
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	apiV1.Use(middleware.BodyLimit(bodyLimit))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	if cfg.IsDev() && cfg.AuthSigningKey == "" && cfg.AuthJWKSURL == "" {
		apiV1.Use(auth.DevAuthMiddleware(cfg.DefaultTenant))
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.Audit(logger))
	if be.pool != nil {
		apiV1.Use(db.TenantMiddleware(be.pool, cfg.DefaultTenant))
	}

	ward.NewHandler(wardSvc).RegisterRoutes(apiV1)
	bed.NewHandler(bedSvc).RegisterRoutes(apiV1)
	admission.NewHandler(engine).RegisterRoutes(apiV1)
	occupancy.NewHandler(reporter).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreBackend).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	if hook != nil {
		if err := hook.Close(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("billing deliveries still in flight at shutdown")
		}
	}
	logger.Info().Msg("server stopped")
	return nil
}
