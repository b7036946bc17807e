package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/facekiosk/internal/config"
	"github.com/your-org/facekiosk/internal/observability"
	"github.com/your-org/facekiosk/internal/vision"
)

// Camera states reported by Status.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateRetrying = "retrying"
	StateEnded    = "ended"
	StateStopped  = "stopped"
)

const maxBackoff = 30 * time.Second

// FrameSink accepts decoded camera frames. Submit must not block.
type FrameSink interface {
	Submit(f vision.Frame) error
}

// CameraStatus is a point-in-time view of the frame source.
type CameraStatus struct {
	State     string     `json:"state"`
	Source    string     `json:"source"`
	Kind      SourceKind `json:"kind"`
	Frames    uint64     `json:"frames"`
	LastFrame time.Time  `json:"last_frame"`
	Restarts  int        `json:"restarts"`
	LastError string     `json:"last_error,omitempty"`
}

type runFunc func(ctx context.Context, args []string, callback FrameCallback) (int, error)
type resolveFunc func(ctx context.Context, url string, maxHeight int) (string, error)

// Camera feeds frames from ffmpeg into the engine, restarting ffmpeg with
// exponential backoff when the source fails.
type Camera struct {
	cfg  config.CameraConfig
	kind SourceKind
	sink FrameSink
	now  func() time.Time

	run     runFunc
	resolve resolveFunc
	delay   func(attempt int) time.Duration

	mu     sync.Mutex
	status CameraStatus
}

func NewCamera(cfg config.CameraConfig, sink FrameSink) *Camera {
	kind := ClassifySource(cfg.Source)
	return &Camera{
		cfg:  cfg,
		kind: kind,
		sink: sink,
		now:  time.Now,
		run: func(ctx context.Context, args []string, cb FrameCallback) (int, error) {
			return (&FFmpegExtractor{}).Run(ctx, args, cb)
		},
		resolve: ResolveYouTubeURL,
		delay:   backoff,
		status:  CameraStatus{State: StateStarting, Source: cfg.Source, Kind: kind},
	}
}

// Run blocks until ctx is cancelled, the engine closes or a non-looping file
// source reaches its end.
func (c *Camera) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	defer observability.CameraUp.Set(0)

	opts := InputOptions{
		Format: c.cfg.Format,
		FPS:    c.cfg.FPS,
		Width:  c.cfg.Width,
		Loop:   c.cfg.Loop,
	}

	slog.Info("starting camera", "source", c.cfg.Source, "kind", c.kind, "fps", c.cfg.FPS, "width", c.cfg.Width)

	attempt := 0
	for {
		frames, err := c.runOnce(ctx, cancel, opts)
		observability.CameraUp.Set(0)

		if cause := context.Cause(ctx); cause != nil {
			if errors.Is(cause, vision.ErrEngineClosed) {
				slog.Info("engine closed, stopping camera")
			}
			c.setState(StateStopped, nil)
			return nil
		}
		if err == nil && c.kind == SourceFile && !c.cfg.Loop {
			slog.Info("camera source ended", "source", c.cfg.Source, "frames", frames)
			c.setState(StateEnded, nil)
			return nil
		}
		if err == nil {
			err = fmt.Errorf("source closed after %d frames", frames)
		}

		if frames > 0 {
			attempt = 0
		}
		attempt++
		delay := c.delay(attempt)
		slog.Warn("camera failed, retrying", "source", c.cfg.Source, "attempt", attempt, "delay", delay, "error", err)
		c.setState(StateRetrying, err)

		select {
		case <-ctx.Done():
			c.setState(StateStopped, nil)
			return nil
		case <-time.After(delay):
		}
	}
}

func (c *Camera) runOnce(ctx context.Context, stop context.CancelCauseFunc, opts InputOptions) (int, error) {
	input := c.cfg.Source
	if c.kind == SourceYouTube {
		resolved, err := c.resolve(ctx, c.cfg.Source, 720)
		if err != nil {
			return 0, fmt.Errorf("resolve youtube url: %w", err)
		}
		input = resolved
	}

	c.setState(StateRunning, nil)
	return c.run(ctx, ffmpegArgs(c.kind, input, opts), func(data []byte) error {
		return c.handleFrame(data, stop)
	})
}

func (c *Camera) handleFrame(data []byte, stop context.CancelCauseFunc) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		observability.FramesDropped.WithLabelValues("decode").Inc()
		return fmt.Errorf("decode frame: %w", err)
	}

	now := c.now()
	c.mu.Lock()
	c.status.Frames++
	c.status.LastFrame = now
	c.status.LastError = ""
	c.mu.Unlock()
	observability.CameraUp.Set(1)

	err = c.sink.Submit(vision.Frame{Image: img, Rotation: c.cfg.Rotation, Timestamp: now})
	switch {
	case err == nil, errors.Is(err, vision.ErrBusy), errors.Is(err, vision.ErrModelsNotReady):
		return nil
	case errors.Is(err, vision.ErrEngineClosed):
		stop(err)
		return nil
	default:
		return err
	}
}

func (c *Camera) setState(state string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == StateRetrying {
		c.status.Restarts++
	}
	c.status.State = state
	if err != nil {
		c.status.LastError = err.Error()
	}
}

// Status returns a copy of the current camera status.
func (c *Camera) Status() CameraStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// backoff returns 2s, 4s, 8s ... capped at 30s.
func backoff(attempt int) time.Duration {
	if attempt > 5 {
		return maxBackoff
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
