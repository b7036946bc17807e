package vision

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/your-org/facekiosk/internal/observability"
)

// EngineConfig tunes dispatch and lock-in.
type EngineConfig struct {
	// MinLockWidth is the detection width, in pixels, a face needs before it may lock.
	MinLockWidth int
	// FrontFaceMaxAngle bounds |yaw| and |roll| for a front-facing capture.
	FrontFaceMaxAngle float32
	// CropPadding pads the box on each side, as a fraction of its size, before squaring.
	CropPadding float64
	Tracker     TrackerConfig
	Playback    PlaybackConfig
	Catalog     Catalog
}

// DefaultEngineConfig returns the stock kiosk tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MinLockWidth:      150,
		FrontFaceMaxAngle: 15,
		CropPadding:       0.1,
		Tracker:           DefaultTrackerConfig(),
		Playback:          DefaultPlaybackConfig(),
		Catalog:           DefaultCatalog(),
	}
}

// Frame is one camera frame handed to the engine.
type Frame struct {
	Image     image.Image
	Rotation  int // clockwise degrees to apply before detection
	Timestamp time.Time
}

// EventSink receives lock and playback transitions. Calls are made from
// engine goroutines and must not block.
type EventSink interface {
	FaceLocked(face Identity)
	PlaybackChanged(info *PlaybackInfo)
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithEventSink registers a sink for lock and playback events.
func WithEventSink(sink EventSink) EngineOption {
	return func(e *Engine) { e.sink = sink }
}

// WithRand sets the source used to pick playback videos.
func WithRand(intn func(int) int) EngineOption {
	return func(e *Engine) { e.intn = intn }
}

// Engine runs detection and tracking per frame and schedules age/gender
// inference in the background.
//
// Model invocations are globally serialised through a single-slot semaphore:
// the loaded models are one shared, non-reentrant executor. The same slot
// guards model reloads, so a reload waits for the running inference and
// no inference starts against a half-built model set.
type Engine struct {
	cfg      EngineConfig
	detector FaceDetector
	loader   ModelLoader
	tracker  *Tracker
	selector *Selector
	sink     EventSink
	now      func() time.Time
	intn     func(int) int

	sem    *semaphore.Weighted
	models AttributeModels // guarded by sem

	settingsMu sync.Mutex
	settings   Settings

	ready      atomic.Bool
	processing atomic.Bool
	pending    atomic.Int32 // dispatched inference tasks not yet finished

	previewMu sync.Mutex
	previewW  int
	previewH  int

	cameraFPS *observability.RateMeter
	detectFPS *observability.RateMeter

	publishMu sync.Mutex
	state     *Latest[State]
	playback  *Latest[*PlaybackInfo]

	lifeMu sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine creates an engine with no models loaded. Call Configure before
// submitting frames.
func NewEngine(cfg EngineConfig, detector FaceDetector, loader ModelLoader, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		detector:  detector,
		loader:    loader,
		tracker:   NewTracker(cfg.Tracker),
		now:       time.Now,
		sem:       semaphore.NewWeighted(1),
		cameraFPS: observability.NewRateMeter(observability.DefaultRateWindow, observability.CameraFPS),
		detectFPS: observability.NewRateMeter(observability.DefaultRateWindow, observability.DetectionFPS),
		state:     NewLatest(State{}),
		playback:  NewLatest[*PlaybackInfo](nil),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.selector = NewSelector(cfg.Playback, cfg.Catalog, e.intn)
	return e
}

// Configure loads the models for s. If s equals the active settings and the
// models are loaded, it is a no-op. Otherwise the current models are torn
// down first, after any running inference finishes. Frames are dropped until
// the new models are ready.
func (e *Engine) Configure(ctx context.Context, s Settings) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	mode, err := ParseInferenceMode(string(s.InferenceMode))
	if err != nil {
		return err
	}
	s.InferenceMode = mode
	if _, err := VariantByIndex(s.ModelVariant); err != nil {
		return err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for inference slot: %w", err)
	}
	defer e.sem.Release(1)

	e.settingsMu.Lock()
	unchanged := e.settings == s && e.models != nil
	e.settings = s
	e.settingsMu.Unlock()
	if unchanged {
		return nil
	}

	e.ready.Store(false)
	e.publish(e.now())

	if e.models != nil {
		if err := e.models.Close(); err != nil {
			slog.Warn("close models", "error", err)
		}
		e.models = nil
	}

	start := time.Now()
	models, err := e.loader(s)
	if err != nil {
		e.publish(e.now())
		return fmt.Errorf("load models: %w", err)
	}
	e.models = models
	e.ready.Store(true)
	slog.Info("models ready",
		"mode", s.InferenceMode,
		"variant", s.ModelVariant,
		"only_front_face", s.OnlyFrontFace,
		"took", time.Since(start),
	)
	e.publish(e.now())
	return nil
}

// Settings returns the active settings.
func (e *Engine) Settings() Settings {
	e.settingsMu.Lock()
	defer e.settingsMu.Unlock()
	return e.settings
}

// ModelsReady reports whether frames are currently accepted.
func (e *Engine) ModelsReady() bool {
	return e.ready.Load()
}

// Submit hands a frame to the engine without blocking. The frame is dropped,
// not queued, when models are not ready or when the previous frame or any
// inference is still in flight.
func (e *Engine) Submit(f Frame) error {
	if err := e.admit(); err != nil {
		return err
	}
	if !e.spawn(func() {
		defer e.processing.Store(false)
		e.processFrame(e.ctx, f)
	}) {
		e.processing.Store(false)
		return ErrEngineClosed
	}
	return nil
}

// ProcessFrame is the synchronous form of Submit: detection and tracking run
// on the caller's goroutine; inference is still dispatched in the background.
func (e *Engine) ProcessFrame(ctx context.Context, f Frame) error {
	if err := e.admit(); err != nil {
		return err
	}
	defer e.processing.Store(false)
	e.processFrame(ctx, f)
	return nil
}

// admit applies the drop policy. On success the processing flag is held.
func (e *Engine) admit() error {
	e.cameraFPS.Tick(e.now())
	observability.FramesReceived.Inc()

	if err := e.checkOpen(); err != nil {
		return err
	}
	if !e.ready.Load() {
		observability.FramesDropped.WithLabelValues("not_ready").Inc()
		return ErrModelsNotReady
	}
	if e.pending.Load() > 0 || !e.processing.CompareAndSwap(false, true) {
		observability.FramesDropped.WithLabelValues("busy").Inc()
		return ErrBusy
	}
	return nil
}

func (e *Engine) processFrame(ctx context.Context, f Frame) {
	img := Rotate(f.Image, f.Rotation)
	b := img.Bounds()
	e.previewMu.Lock()
	e.previewW, e.previewH = b.Dx(), b.Dy()
	e.previewMu.Unlock()

	start := time.Now()
	dets, err := e.detector.Detect(ctx, img)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		slog.Warn("detection failed, frame skipped", "error", err)
		observability.FramesDropped.WithLabelValues("detect_error").Inc()
		return
	}

	now := e.now()
	e.detectFPS.Tick(now)
	observability.FramesProcessed.Inc()
	observability.FacesDetected.Add(float64(len(dets)))

	ids := e.tracker.Update(dets, now)
	settings := e.Settings()
	largest := largestDetection(dets)
	for i, det := range dets {
		e.dispatch(img, det, ids[i], i == largest, settings)
	}

	e.publish(now)
}

type inferenceJob struct {
	id          int
	crop        *image.RGBA
	front       bool
	lockAttempt bool
	onlyFront   bool
}

// dispatch starts an inference task for the identity if it is eligible:
// never estimated, or wide enough to lock while unlocked and the largest face
// in the frame. An identity with a task outstanding is never re-dispatched.
func (e *Engine) dispatch(img image.Image, det Detection, id int, isLargest bool, settings Settings) {
	var eligible, lockAttempt bool
	e.tracker.mutate(id, func(f *Identity) {
		if f.Inferring {
			return
		}
		needsInitial := f.Age == 0
		needsLock := det.Box.Dx() >= e.cfg.MinLockWidth && !f.Locked
		if !needsInitial && !(needsLock && isLargest) {
			return
		}
		f.Inferring = true
		eligible = true
		lockAttempt = needsLock && isLargest
	})
	if !eligible {
		return
	}

	job := inferenceJob{
		id:          id,
		crop:        CropFace(img, det.Box, e.cfg.CropPadding),
		front:       det.Pose.IsFrontFacing(e.cfg.FrontFaceMaxAngle),
		lockAttempt: lockAttempt,
		onlyFront:   settings.OnlyFrontFace,
	}
	if job.crop == nil {
		e.tracker.mutate(id, func(f *Identity) { f.Inferring = false })
		return
	}

	e.pending.Add(1)
	if !e.spawn(func() { e.runInference(job) }) {
		e.pending.Add(-1)
		e.tracker.mutate(id, func(f *Identity) { f.Inferring = false })
	}
}

// runInference is the task body. Everything between Acquire and Release runs
// with at most one task process-wide.
func (e *Engine) runInference(job inferenceJob) {
	defer e.pending.Add(-1)

	if err := e.sem.Acquire(e.ctx, 1); err != nil {
		e.tracker.mutate(job.id, func(f *Identity) { f.Inferring = false })
		return
	}
	defer e.sem.Release(1)

	var (
		age    float32
		gender GenderScores
		err    error
	)
	if e.models == nil {
		err = ErrModelsNotReady
	} else {
		age, gender, err = e.infer(e.models, job.crop)
	}
	e.apply(job, age, gender, err)
}

func (e *Engine) infer(models AttributeModels, crop image.Image) (age float32, gender GenderScores, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	start := time.Now()
	age, err = models.EstimateAge(crop)
	observability.InferenceDuration.WithLabelValues("age").Observe(time.Since(start).Seconds())
	if err != nil {
		return 0, GenderScores{}, err
	}

	start = time.Now()
	gender, err = models.ClassifyGender(crop)
	observability.InferenceDuration.WithLabelValues("gender").Observe(time.Since(start).Seconds())
	return age, gender, err
}

// apply writes the result back onto the identity. Results for an identity
// that expired while the task ran are discarded; a locked identity is never
// overwritten.
func (e *Engine) apply(job inferenceJob, age float32, gender GenderScores, err error) {
	now := e.now()
	valid := err == nil && age > 0 && gender.IsSet()

	var locked *Identity
	found := e.tracker.mutate(job.id, func(f *Identity) {
		f.Inferring = false
		if !valid || f.Locked {
			return
		}
		f.Age = age
		f.Gender = gender
		f.LastInference = now
		if job.lockAttempt && (!job.onlyFront || job.front) {
			f.Locked = true
			f.FirstSeen = now
			f.Thumbnail = job.crop
			snapshot := *f
			locked = &snapshot
		}
	})

	switch {
	case err != nil:
		observability.InferencesTotal.WithLabelValues("error").Inc()
		slog.Warn("inference failed", "face", job.id, "error", err)
	case !valid:
		observability.InferencesTotal.WithLabelValues("invalid").Inc()
		slog.Debug("low-confidence result, will retry", "face", job.id, "age", age)
	default:
		observability.InferencesTotal.WithLabelValues("valid").Inc()
	}
	if !found {
		slog.Debug("face expired during inference, result discarded", "face", job.id)
	}

	if locked != nil {
		observability.FacesLocked.Inc()
		slog.Info("face locked",
			"face", locked.ID,
			"age", locked.Age,
			"male", locked.Gender.IsMale(),
			"front", job.front,
		)
		if e.sink != nil {
			e.sink.FaceLocked(*locked)
		}
	}

	e.publish(now)
}

// publish republishes the tracked list and recomputes the playback selection.
func (e *Engine) publish(now time.Time) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	faces := e.tracker.Snapshot()
	observability.TrackedFaces.Set(float64(len(faces)))

	e.previewMu.Lock()
	w, h := e.previewW, e.previewH
	e.previewMu.Unlock()

	e.state.Store(State{
		Faces:         faces,
		PreviewWidth:  w,
		PreviewHeight: h,
		ModelsReady:   e.ready.Load(),
		Processing:    e.processing.Load(),
		CameraFPS:     e.cameraFPS.Rate(),
		DetectionFPS:  e.detectFPS.Rate(),
		UpdatedAt:     now,
	})

	if info, changed := e.selector.Update(faces, now); changed {
		e.playback.Store(info)
		if e.sink != nil {
			e.sink.PlaybackChanged(info)
		}
	}
}

// Clear drops every tracked identity and republishes the empty list.
// Inference already in flight for a cleared identity is discarded.
func (e *Engine) Clear() {
	e.tracker.Clear()
	e.publish(e.now())
}

// State returns the latest published snapshot.
func (e *Engine) State() State {
	return e.state.Load()
}

// SubscribeState streams state snapshots with latest-value semantics.
func (e *Engine) SubscribeState() (<-chan State, func()) {
	return e.state.Subscribe()
}

// Playback returns the current playback selection, or nil.
func (e *Engine) Playback() *PlaybackInfo {
	return e.playback.Load()
}

// SubscribePlayback streams playback selection changes.
func (e *Engine) SubscribePlayback() (<-chan *PlaybackInfo, func()) {
	return e.playback.Subscribe()
}

// Face returns a tracked identity by id.
func (e *Engine) Face(id int) (Identity, bool) {
	return e.tracker.Get(id)
}

// Wait blocks until every frame and inference task started so far has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Close stops accepting frames, waits for running tasks and releases the models.
func (e *Engine) Close() error {
	e.lifeMu.Lock()
	if e.closed {
		e.lifeMu.Unlock()
		return nil
	}
	e.closed = true
	e.lifeMu.Unlock()

	e.cancel()
	e.wg.Wait()

	// A Configure in progress finishes before the models are released.
	_ = e.sem.Acquire(context.Background(), 1)
	defer e.sem.Release(1)
	e.ready.Store(false)
	if e.models != nil {
		if err := e.models.Close(); err != nil {
			slog.Warn("close models", "error", err)
		}
		e.models = nil
	}
	return nil
}

func (e *Engine) checkOpen() error {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// spawn runs fn on a tracked goroutine unless the engine is closed.
func (e *Engine) spawn(fn func()) bool {
	e.lifeMu.RLock()
	defer e.lifeMu.RUnlock()
	if e.closed {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}
