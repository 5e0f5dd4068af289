// TaskFlow API server: REST surface, task domain engine, audit/event
// emission, and the agent tool server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/auth"
	"github.com/taskflow/taskflow/internal/bootstrap"
	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/httpmw"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/common/tracing"
	"github.com/taskflow/taskflow/internal/db"
	"github.com/taskflow/taskflow/internal/db/dialect"
	"github.com/taskflow/taskflow/internal/events"
	"github.com/taskflow/taskflow/internal/events/bus"
	"github.com/taskflow/taskflow/internal/scheduler"
	"github.com/taskflow/taskflow/internal/task/handlers"
	"github.com/taskflow/taskflow/internal/task/service"
	"github.com/taskflow/taskflow/internal/task/store"
	"github.com/taskflow/taskflow/internal/toolserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log.Info("Starting TaskFlow",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("port", cfg.Server.Port))

	// Storage.
	repo, err := openStore(cfg)
	if err != nil {
		log.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	// Event transport. The sidecar publisher wins when configured; NATS
	// next; otherwise in-process dispatch.
	publisher, busCleanup := openPublisher(cfg, log)
	defer busCleanup()

	// Identity verification.
	verifier := auth.NewVerifier(cfg.IdP, cfg.Dev, log)
	if cfg.IdP.WarmOnStartup && !cfg.Dev.Enabled {
		verifier.Warm(ctx)
	}
	discovery := auth.NewDiscovery(cfg.IdP.BaseURL, cfg.Server.PublicURL)

	// Domain service.
	sched := scheduler.NewClient(cfg.Scheduler, log)
	emitter := events.NewEmitter(publisher, log)
	svc := service.New(repo, sched, emitter, log)
	boot := bootstrap.New(repo, cfg.Dev.Enabled, log)
	api := handlers.New(svc, log)

	// HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "taskflow"))
	router.Use(httpmw.OtelTracing("taskflow"))
	router.Use(corsMiddleware())

	discovery.Register(router)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "taskflow"})
	})
	router.GET("/health/ready", func(c *gin.Context) {
		if err := repo.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Scheduler callbacks arrive from the co-located sidecar, not from
	// end users, so they sit outside the auth chain.
	router.POST("/api/jobs/trigger", api.TriggerJob)

	authenticated := router.Group("/api")
	authenticated.Use(auth.Middleware(verifier, discovery.ResourceMetadataURL()))
	authenticated.Use(boot.Middleware())
	api.RegisterRoutes(authenticated)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}
	go func() {
		log.Info("API server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Agent tool server.
	var toolCleanup func() error
	if cfg.ToolServer.Enabled {
		_, cleanup, err := toolserver.Provide(ctx, cfg.ToolServer, discovery, log)
		if err != nil {
			log.Fatal("Failed to start tool server", zap.Error(err))
		}
		toolCleanup = cleanup
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down TaskFlow...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if toolCleanup != nil {
		if err := toolCleanup(); err != nil {
			log.Error("Tool server shutdown error", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("TaskFlow stopped")
}

// openStore builds the repository for the configured database driver.
func openStore(cfg *config.Config) (*store.Repository, error) {
	if !dialect.IsPostgres(cfg.Database.Driver) {
		return store.NewSQLite(cfg.Database.Path)
	}

	writer, err := db.OpenPostgres(cfg.Database.DSN(), cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		return nil, err
	}
	pool := db.NewPool(
		sqlx.NewDb(writer, dialect.PGX),
		sqlx.NewDb(writer, dialect.PGX),
	)
	return store.New(pool)
}

// openPublisher picks the event transport: pub/sub sidecar, NATS, or the
// in-memory bus. Returns the publisher and a cleanup function.
func openPublisher(cfg *config.Config, log *logger.Logger) (bus.Publisher, func()) {
	if cfg.PubSub.Address != "" {
		return bus.NewSidecarPublisher(cfg.PubSub, log), func() {}
	}
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		return natsBus, natsBus.Close
	}
	memBus := bus.NewMemoryEventBus(log)
	return memBus, memBus.Close
}

// corsMiddleware allows browser clients on other origins to call the API.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Tenant-ID, X-User-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
