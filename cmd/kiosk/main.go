package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facekiosk/internal/api"
	"github.com/your-org/facekiosk/internal/api/handlers"
	"github.com/your-org/facekiosk/internal/api/ws"
	"github.com/your-org/facekiosk/internal/config"
	"github.com/your-org/facekiosk/internal/events"
	"github.com/your-org/facekiosk/internal/ingest"
	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/observability"
	"github.com/your-org/facekiosk/internal/queue"
	"github.com/your-org/facekiosk/internal/storage"
	"github.com/your-org/facekiosk/internal/vision"
	"github.com/your-org/facekiosk/pkg/dto"
)

// staleFrameAfter marks the camera not ready when no frame arrived for this long.
const staleFrameAfter = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/kiosk.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	gin.SetMode(gin.ReleaseMode)

	slog.Info("starting face kiosk",
		"kiosk_id", cfg.NATS.KioskID,
		"port", cfg.Server.Port,
		"camera", cfg.Camera.Source,
		"cpu_cores", runtime.NumCPU(),
	)

	// Initialize ONNX Runtime
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	detectorPath := filepath.Join(cfg.Vision.ModelsDir, cfg.Vision.DetectorModel)
	detector, err := vision.LoadRetinaFace(detectorPath, float32(cfg.Vision.DetectionThreshold), cfg.Vision.NumThreads)
	if err != nil {
		slog.Error("load face detector", "path", detectorPath, "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var checks []handlers.Check
	var engineOpts []vision.EngineOption

	// Event publication is optional: a standalone kiosk runs without NATS.
	var producer *queue.Producer
	var publisher *events.Publisher
	publisherDone := make(chan struct{})
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		checks = append(checks, handlers.Check{Name: "nats", Probe: func(context.Context) error { return producer.Ping() }})

		var snapshots events.SnapshotStore
		if cfg.MinIO.Endpoint != "" {
			minioStore, err := storage.NewMinIOStore(cfg.MinIO)
			if err != nil {
				slog.Error("connect to minio", "error", err)
				os.Exit(1)
			}
			if err := minioStore.EnsureBucket(ctx); err != nil {
				slog.Warn("ensure minio bucket", "error", err)
			}
			snapshots = minioStore
		}

		publisher = events.NewPublisher(cfg.NATS.KioskID, snapshots, producer, 0)
		engineOpts = append(engineOpts, vision.WithEventSink(publisher))
		go func() {
			defer close(publisherDone)
			publisher.Run(context.Background())
		}()
		slog.Info("publishing audience events", "kiosk_id", cfg.NATS.KioskID, "session", publisher.SessionID())
	} else {
		close(publisherDone)
		slog.Info("nats not configured, audience events disabled")
	}

	engine := vision.NewEngine(cfg.EngineConfig(), detector, vision.ONNXLoader(cfg.ModelConfig()), engineOpts...)
	if err := engine.Configure(ctx, cfg.Settings()); err != nil {
		// Keep serving so the settings can be corrected through the API.
		slog.Error("load attribute models", "error", err)
	}
	checks = append(checks, handlers.Check{Name: "models", Probe: func(context.Context) error {
		if !engine.ModelsReady() {
			return errors.New("models not loaded")
		}
		return nil
	}})

	// Remote settings and clear commands
	if cfg.NATS.URL != "" {
		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create control consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		sub, err := consumer.SubscribeControl(cfg.NATS.KioskID, func(cmd models.ControlCommand) {
			applyControl(ctx, engine, cmd)
		})
		if err != nil {
			slog.Warn("subscribe control", "error", err)
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	// Camera
	camera := ingest.NewCamera(cfg.Camera, engine)
	cameraDone := make(chan struct{})
	go func() {
		defer close(cameraDone)
		if err := camera.Run(ctx); err != nil {
			slog.Error("camera stopped", "error", err)
		}
	}()
	checks = append(checks, handlers.Check{Name: "camera", Probe: func(context.Context) error {
		st := camera.Status()
		if st.LastFrame.IsZero() || time.Since(st.LastFrame) > staleFrameAfter {
			if st.LastError != "" {
				return errors.New(st.LastError)
			}
			return fmt.Errorf("no frames (%s)", st.State)
		}
		return nil
	}})

	// Live WebSocket push
	hub := ws.NewHub()
	hub.Snapshot = func() []*dto.WSMessage {
		return []*dto.WSMessage{
			{Type: "state", Data: handlers.StateResponse(engine.State())},
			{Type: "playback", Data: handlers.PlaybackResponse(engine.Playback())},
		}
	}
	go hub.Run(ctx)

	stateCh, stopState := engine.SubscribeState()
	defer stopState()
	go ws.Forward(ctx, hub, stateCh, "state", func(s vision.State) any {
		return handlers.StateResponse(s)
	})

	playbackCh, stopPlayback := engine.SubscribePlayback()
	defer stopPlayback()
	go ws.Forward(ctx, hub, playbackCh, "playback", func(p *vision.PlaybackInfo) any {
		return handlers.PlaybackResponse(p)
	})

	router := api.NewKioskRouter(api.KioskRouterConfig{
		APIKey: cfg.Server.APIKey,
		Engine: engine,
		Camera: camera,
		Hub:    hub,
		Checks: checks,
	})

	// Start HTTP server
	// PUT /v1/settings reloads the models before responding.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("kiosk API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down kiosk...")
	cancel()
	<-cameraDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}

	if err := engine.Close(); err != nil {
		slog.Error("close engine", "error", err)
	}
	if publisher != nil {
		publisher.Close()
	}
	select {
	case <-publisherDone:
	case <-shutdownCtx.Done():
		slog.Warn("event queue not drained before shutdown")
	}

	slog.Info("kiosk stopped")
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system. ONNXRUNTIME_LIB overrides it.
func getONNXLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
