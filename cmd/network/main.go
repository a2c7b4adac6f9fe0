// ==============================================================================
// NETWORK SERVICE MAIN - cmd/network/main.go
// ==============================================================================
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"mlm/internal/commission"
	"mlm/internal/handler"
	"mlm/internal/intake"
	"mlm/internal/ledger"
	"mlm/internal/metrics"
	"mlm/internal/middleware"
	"mlm/internal/network"
	"mlm/internal/notification"
	"mlm/internal/repository/sqlstore"
	"mlm/internal/scheduler"
	"mlm/internal/storage"
	"mlm/internal/storage/memory"
	"mlm/pkg/cache"
	"mlm/pkg/config"
	"mlm/pkg/logger"
	"mlm/pkg/validator"
)

func main() {
	cfg := config.Load()
	log := logger.NewWithOptions("network-service", logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting Network Service", map[string]interface{}{
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
	})

	store, closeStore := openStore(cfg, log)
	defer closeStore()

	// Redis is optional; without it the service falls back to in-process
	// rate limiting and skips caching and event publishing.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer redisClient.Close()
		log.Info("Redis connected", nil)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("mlm", reg)

	var channels []notification.Channel
	if redisClient != nil {
		channels = append(channels, notification.NewRedisChannel(redisClient, cfg.Notification.Channel))
	}
	notifier := notification.NewService(log, channels...)

	// Initialize services
	networkService := network.NewService(store, network.Config{
		MaxPlacementAttempts: cfg.Placement.MaxAttempts,
	}, notifier, m, log)
	ledgerService := ledger.NewService(store, notifier, m, log)
	gate := intake.NewGate(store)
	engine := commission.NewEngine(store, gate, ledgerService, commission.Config{
		DirectRate:  cfg.Commission.DirectRate,
		BinaryRate:  cfg.Commission.BinaryRate,
		AutoApprove: cfg.Commission.AutoApprove,
	}, notifier, m, log)

	integrityScheduler := scheduler.NewScheduler(networkService, cfg.Placement.IntegrityInterval, log)

	// Initialize handlers
	val := validator.New()
	var reports handler.ReportCache
	var idempotency *middleware.IdempotencyMiddleware
	var limiter middleware.Limiter
	readiness := map[string]handler.Pinger{"database": store}
	if redisClient != nil {
		reportCache := cache.New(redisClient, "mlm:")
		reports = reportCache
		readiness["redis"] = reportCache
		idempotency = middleware.NewIdempotencyMiddleware(redisClient, cfg.RateLimit.IdempotencyTTL, log)
		limiter = middleware.NewRateLimiter(redisClient, "mlm", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	} else {
		idempotency = middleware.NewIdempotencyMiddleware(nil, cfg.RateLimit.IdempotencyTTL, log)
		limiter = middleware.NewLocalRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}

	networkHandler := handler.NewNetworkHandler(networkService, reports, handler.DownlineOptions{
		DefaultDepth: cfg.Placement.DefaultDepth,
		MaxDepth:     cfg.Placement.MaxDepth,
		CacheTTL:     cfg.Placement.DownlineCacheTTL,
	}, val, log)
	salesHandler := handler.NewSalesHandler(engine, gate, val, log)
	commissionHandler := handler.NewCommissionHandler(engine, log)
	walletHandler := handler.NewWalletHandler(ledgerService, val, log, idempotency.Require)
	systemHandler := handler.NewSystemHandler("network-service", readiness, log).WithIntegrity(integrityScheduler)

	// Setup router
	r := mux.NewRouter()

	// Middleware
	r.Use(middleware.CORS)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.CorrelationID)
	r.Use(middleware.NewLoggingMiddleware(log).Log)
	r.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	authMW := middleware.NewAuthMiddleware(cfg.JWT.Secret)

	// Routes
	r.HandleFunc("/health", systemHandler.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", systemHandler.Ready).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	// Protected routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Authenticate)
	api.Use(limiter.Limit)

	networkHandler.Register(api)
	salesHandler.Register(api)
	commissionHandler.Register(api)
	walletHandler.Register(api)

	integrityScheduler.Start()

	// Start server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown
	go func() {
		log.Info("Network service started", map[string]interface{}{
			"address": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down network service...", nil)
	integrityScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Network service forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	log.Info("Network service stopped gracefully", nil)
}

// openStore connects the configured storage backend, applying migrations
// first when DB_AUTO_MIGRATE is set.
func openStore(cfg *config.Config, log logger.Logger) (storage.Store, func()) {
	if cfg.Database.Driver == "memory" {
		log.Warn("Using in-memory store; data is lost on restart", nil)
		return memory.NewStore(), func() {}
	}

	dialect := sqlstore.Dialect(cfg.Database.Driver)
	if cfg.Database.AutoMigrate {
		if err := sqlstore.MigrateUp(dialect, cfg.Database.URL); err != nil {
			log.Fatal("Failed to run migrations", map[string]interface{}{"error": err.Error()})
		}
		log.Info("Migrations applied", nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := sqlstore.Open(ctx, sqlstore.Options{
		Dialect:         dialect,
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	log.Info("Database connected", nil)

	return store, func() {
		if err := store.Close(); err != nil {
			log.Error("Failed to close database", map[string]interface{}{"error": err.Error()})
		}
	}
}
