package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facekiosk/internal/api"
	"github.com/your-org/facekiosk/internal/api/handlers"
	"github.com/your-org/facekiosk/internal/config"
	"github.com/your-org/facekiosk/internal/events"
	"github.com/your-org/facekiosk/internal/observability"
	"github.com/your-org/facekiosk/internal/queue"
	"github.com/your-org/facekiosk/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/collector.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting audience collector", "port", cfg.Server.Port, "workers", cfg.Collector.Workers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("ensure schema", "error", err)
		os.Exit(1)
	}

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(ctx); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}
	go minioStore.RunRetention(ctx, cfg.Collector.SnapshotRetention, cfg.Collector.RetentionInterval)

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create event consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	recorder := events.NewRecorder(db)
	if err := consumer.ConsumeEvents(ctx, "audience-collector", recorder.Handle, cfg.Collector.Workers); err != nil {
		slog.Error("start event consumer", "error", err)
		os.Exit(1)
	}

	// Periodically report stream depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.StreamDepth(ctx)
				if err == nil {
					observability.EventsStreamMessages.Set(float64(depth))
				}
			}
		}
	}()

	router := api.NewCollectorRouter(api.CollectorRouterConfig{
		APIKey:    cfg.Server.APIKey,
		Events:    db,
		Snapshots: minioStore,
		Control:   producer,
		Checks: []handlers.Check{
			{Name: "postgres", Probe: db.Ping},
			{Name: "minio", Probe: minioStore.Ping},
			{Name: "nats", Probe: func(context.Context) error { return producer.Ping() }},
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("collector API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down collector...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	slog.Info("collector stopped")
}
