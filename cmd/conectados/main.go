package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conectados/conectados-api/internal/config"
	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/handler"
	"github.com/conectados/conectados-api/internal/infra/cache"
	"github.com/conectados/conectados-api/internal/infra/client"
	"github.com/conectados/conectados-api/internal/infra/memstore"
	"github.com/conectados/conectados-api/internal/infra/observability"
	"github.com/conectados/conectados-api/internal/infra/postgres"
	"github.com/conectados/conectados-api/internal/infra/resilience"
	"github.com/conectados/conectados-api/internal/infra/supabase"
	"github.com/conectados/conectados-api/internal/port"
	"github.com/conectados/conectados-api/internal/service"

	"go.uber.org/zap"
)

// recordStore is what the services and the health check need from a backend.
type recordStore interface {
	port.RecordStore
	handler.Pinger
}

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "conectados-api")
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_backend", cfg.StoreBackend),
		zap.String("public_origin", cfg.PublicOrigin),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("jwt_access_ttl", cfg.JWTAccessTTL),
		zap.Duration("link_readback_delay", cfg.LinkReadbackDelay),
		zap.Bool("block_cross_campaign", cfg.BlockCrossCampaign),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "conectados-api")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Clients ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	store, closeStore, err := openStore(startCtx, cfg, httpClient, resilienceCfg, logger)
	cancelStart()
	if err != nil {
		logger.Fatal("failed to open record store", zap.Error(err))
	}
	defer closeStore()

	postal := client.NewPostalClient(httpClient, cfg.ViaCEPURL, resilience.NewCircuitBreaker("viacep"), resilienceCfg)

	// --- Cache ---
	var campaignCache port.Cache[*domain.Campaign] = cache.New[*domain.Campaign](cfg.CacheTTL)
	if cfg.CacheBackend == config.CacheRedis {
		rdb := cache.NewRedisClient(context.Background(), cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		defer rdb.Close()
		campaignCache = cache.NewRedis[*domain.Campaign](rdb, "conectados:campaign:", cfg.CacheTTL, logger)
	}

	// --- Services ---
	campaignSvc := service.NewCampaignService(store, campaignCache, metrics, logger)
	settingsSvc := service.NewSettingsService(store, logger)
	linkSvc := service.NewLinkService(store, campaignSvc, cfg.PublicOrigin, logger)
	reconciler := service.NewReferralReconciler(store, metrics, logger)
	validator := service.NewDuplicateValidator(store, metrics, logger)
	validator.BlockCrossCampaign = cfg.BlockCrossCampaign
	registrationSvc := service.NewRegistrationService(
		store,
		validator,
		reconciler,
		linkSvc,
		campaignSvc,
		postal,
		metrics,
		logger,
		cfg.LinkReadbackDelay,
	)
	memberSvc := service.NewMemberService(store, reconciler, logger)
	authSvc := service.NewAuthService(store, cfg.JWTSecret, cfg.JWTAccessTTL, logger)

	if cfg.AdminUsername != "" {
		if _, err := authSvc.EnsureAdmin(context.Background(), cfg.AdminUsername, cfg.AdminPassword, ""); err != nil {
			logger.Error("failed to bootstrap admin account", zap.Error(err))
		}
	}

	// --- Router ---
	router := handler.NewRouter(handler.Services{
		Registration: registrationSvc,
		Links:        linkSvc,
		Campaigns:    campaignSvc,
		Settings:     settingsSvc,
		Members:      memberSvc,
		Auth:         authSvc,
		Postal:       postal,
		Store:        store,
	}, handler.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RegisterRateLimit:  cfg.RegisterRateLimit,
		RegisterRateBurst:  cfg.RegisterRateBurst,
	}, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// openStore builds the record store selected by STORE_BACKEND.
func openStore(ctx context.Context, cfg *config.Config, httpClient *http.Client, rc resilience.Config, logger *zap.Logger) (recordStore, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendSupabase:
		if cfg.SupabaseURL == "" {
			return nil, nil, fmt.Errorf("SUPABASE_URL is required for store backend %q", cfg.StoreBackend)
		}
		logger.Info("using Supabase as record store", zap.String("supabase_url", cfg.SupabaseURL))
		c := supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			rc,
			logger,
		)
		return c, func() {}, nil

	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for store backend %q", cfg.StoreBackend)
		}
		logger.Info("using Postgres as record store")
		s, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendMemory:
		logger.Warn("using in-memory record store, data is lost on restart")
		return memstore.New(), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
