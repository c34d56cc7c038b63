// internal/app/server.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"billing-service/internal/cache"
	"billing-service/internal/config"
	"billing-service/internal/db"
	adminHandler "billing-service/internal/handlers/admin"
	entitlementHandler "billing-service/internal/handlers/entitlement"
	healthHandler "billing-service/internal/handlers/health"
	webhookHandler "billing-service/internal/handlers/webhook"
	"billing-service/internal/middleware"
	"billing-service/internal/provider"
	"billing-service/internal/repository/postgres"
	adminUsecase "billing-service/internal/service/admin"
	authUsecase "billing-service/internal/service/auth"
	entitlementUsecase "billing-service/internal/service/entitlement"
	reconcilerUsecase "billing-service/internal/service/reconciler"
	webhookUsecase "billing-service/internal/service/webhook"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct {
	cfg    config.AppConfig
	engine *gin.Engine
	logger *zap.Logger

	httpServer *http.Server
	pool       *pgxpool.Pool
	redis      *redis.Client
	scheduler  *reconcilerUsecase.Scheduler
}

func NewServer(cfg config.AppConfig) *Server {
	return &Server{cfg: cfg, engine: gin.New()}
}

func (s *Server) Start() error {
	ctx := context.Background()

	// ----- Logger -----
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	s.logger = logger

	// ----- PostgreSQL -----
	pool, err := db.ConnectDB(ctx, s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	s.pool = pool

	// ----- Redis -----
	redisClient, err := db.NewRedisClient(db.RedisConfig{
		Addr:     s.cfg.RedisAddr,
		Password: s.cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	s.redis = redisClient
	logger.Info("connected to Redis", zap.String("addr", s.cfg.RedisAddr))

	// ----- Repositories -----
	dbWrapper := postgres.NewDB(pool)
	tenantRepo := postgres.NewTenantRepository(pool)
	catalogRepo := postgres.NewCatalogRepository(pool)
	subscriptionRepo := postgres.NewSubscriptionRepository(pool)
	purchaseRepo := postgres.NewPurchaseRepository(pool)
	grantRepo := postgres.NewGrantRepository(pool)
	entitlementRepo := postgres.NewEntitlementRepository(pool)
	eventRepo := postgres.NewEventRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	// ----- Cache -----
	entCache := cache.NewEntitlementCache(redisClient, s.cfg.CacheTTL, logger)

	// ----- Provider -----
	providerClient := provider.NewHTTPClient(s.cfg.ProviderAPIURL, s.cfg.ProviderAPIKey, s.cfg.ProviderTimeout)

	// ----- Services (Usecases) -----
	entitlementService := entitlementUsecase.NewService(
		dbWrapper,
		subscriptionRepo,
		purchaseRepo,
		grantRepo,
		catalogRepo,
		entitlementRepo,
		entCache,
		s.cfg.PastDueGrace,
		logger,
	)
	authService := authUsecase.NewService(tenantRepo, s.cfg.AdminAPIKey)
	webhookService := webhookUsecase.NewService(
		dbWrapper,
		eventRepo,
		tenantRepo,
		subscriptionRepo,
		purchaseRepo,
		catalogRepo,
		entitlementService,
		s.cfg.WebhookSigningSecret,
		s.cfg.WebhookSkewTolerance,
		logger,
	)
	adminService := adminUsecase.NewService(
		dbWrapper,
		tenantRepo,
		grantRepo,
		auditRepo,
		entitlementService,
		logger,
	)
	reconcilerService := reconcilerUsecase.NewService(
		dbWrapper,
		tenantRepo,
		subscriptionRepo,
		purchaseRepo,
		catalogRepo,
		providerClient,
		entitlementService,
		s.cfg.ReconcileLookbackDays,
		logger,
	)

	// ----- Reconciliation Scheduler -----
	if s.cfg.ReconcileEnabled {
		lease := cache.NewLease(redisClient, "reconcile:leader", 30*time.Minute)
		s.scheduler = reconcilerUsecase.NewScheduler(reconcilerService, s.cfg.ReconcileHourUTC, lease, logger)
		s.scheduler.Start()
	} else {
		logger.Info("reconciliation scheduling is disabled")
	}

	// ----- Handlers -----
	webhookHandlerInst := webhookHandler.NewWebhookHandler(webhookService, logger)
	entitlementHandlerInst := entitlementHandler.NewEntitlementHandler(entitlementService)
	adminHandlerInst := adminHandler.NewAdminHandler(adminService, reconcilerService)
	healthHandlerInst := healthHandler.NewHealthHandler(dbWrapper)

	// ----- Middlewares -----
	authMiddleware := middleware.NewAuthMiddleware(authService)

	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)

	// ----- Router -----
	handlers := &Handlers{
		WebhookHandler:     webhookHandlerInst,
		EntitlementHandler: entitlementHandlerInst,
		AdminHandler:       adminHandlerInst,
		HealthHandler:      healthHandlerInst,
		AuthMiddleware:     authMiddleware,
	}
	SetupRouter(s.engine, handlers)

	// ----- Start HTTP -----
	logger.Info("server running", zap.String("addr", s.cfg.HTTPAddr))
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the scheduler, drains in-flight requests and releases the
// database and cache clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	if s.redis != nil {
		s.redis.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	if s.logger != nil {
		s.logger.Sync()
	}

	return err
}
