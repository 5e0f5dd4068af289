// TaskFlow notification consumer: subscribes to task events and reminders
// and stores per-worker notifications.
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
	"go.uber.org/zap"

	"github.com/taskflow/taskflow/internal/common/config"
	"github.com/taskflow/taskflow/internal/common/httpmw"
	"github.com/taskflow/taskflow/internal/common/logger"
	"github.com/taskflow/taskflow/internal/events/bus"
	"github.com/taskflow/taskflow/internal/notifier"
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

	repo, err := notifier.NewSQLiteRepository(cfg.Notifier.DBPath)
	if err != nil {
		log.Fatal("Failed to open notification store", zap.Error(err))
	}
	defer func() { _ = repo.Close() }()

	consumer := notifier.NewConsumer(repo, log)

	// With NATS configured the consumer pulls from the bus; otherwise
	// events arrive over the HTTP ingress (sidecar delivery).
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer natsBus.Close()
		if err := consumer.Subscribe(natsBus); err != nil {
			log.Fatal("Failed to subscribe", zap.Error(err))
		}
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestLogger(log, "taskflow-notifier"))
	consumer.RegisterRoutes(router)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Notifier.Port),
		Handler: router,
	}
	go func() {
		log.Info("Notifier listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notifier...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("Notifier stopped")
}
