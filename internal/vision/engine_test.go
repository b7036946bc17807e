package vision

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDetector struct {
	mu   sync.Mutex
	dets []Detection
	err  error
}

func (d *fakeDetector) set(dets ...Detection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dets = dets
	d.err = nil
}

func (d *fakeDetector) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *fakeDetector) Detect(_ context.Context, _ image.Image) ([]Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	return append([]Detection(nil), d.dets...), nil
}

type fakeModels struct {
	mu     sync.Mutex
	age    float32
	gender GenderScores
	err    error
	crash  bool
	delay  time.Duration
	gate   chan struct{} // when non-nil, each call waits for a receive

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	closed    atomic.Bool
}

func (m *fakeModels) result(age float32, gender GenderScores) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.age, m.gender, m.err, m.crash = age, gender, nil, false
}

func (m *fakeModels) EstimateAge(image.Image) (float32, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.maxActive.Load()
		if n <= peak || m.maxActive.CompareAndSwap(peak, n) {
			break
		}
	}

	m.mu.Lock()
	gate, delay, age, err, crash := m.gate, m.delay, m.age, m.err, m.crash
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if crash {
		panic("interpreter crashed")
	}
	return age, err
}

func (m *fakeModels) ClassifyGender(image.Image) (GenderScores, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gender, nil
}

func (m *fakeModels) Close() error {
	m.closed.Store(true)
	return nil
}

type recordingSink struct {
	mu       sync.Mutex
	locked   []Identity
	playback []*PlaybackInfo
}

func (s *recordingSink) FaceLocked(f Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, f)
}

func (s *recordingSink) PlaybackChanged(p *PlaybackInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playback = append(s.playback, p)
}

type engineFixture struct {
	engine   *Engine
	clock    *fakeClock
	detector *fakeDetector
	models   *fakeModels
	sink     *recordingSink
	frame    Frame
}

func newEngineFixture(t *testing.T, onlyFront bool) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		clock:    newFakeClock(),
		detector: &fakeDetector{},
		models:   &fakeModels{},
		sink:     &recordingSink{},
		frame:    Frame{Image: image.NewRGBA(image.Rect(0, 0, 640, 480))},
	}
	loader := func(Settings) (AttributeModels, error) { return fx.models, nil }
	fx.engine = NewEngine(DefaultEngineConfig(), fx.detector, loader,
		WithClock(fx.clock.Now),
		WithEventSink(fx.sink),
		WithRand(func(int) int { return 0 }),
	)
	require.NoError(t, fx.engine.Configure(context.Background(), Settings{
		InferenceMode: ModeCPU,
		OnlyFrontFace: onlyFront,
	}))
	t.Cleanup(func() { _ = fx.engine.Close() })
	return fx
}

// step processes one frame synchronously and waits for any inference it dispatched.
func (fx *engineFixture) step(t *testing.T) {
	t.Helper()
	require.NoError(t, fx.engine.ProcessFrame(context.Background(), fx.frame))
	fx.engine.Wait()
}

func (fx *engineFixture) onlyFace(t *testing.T) Identity {
	t.Helper()
	faces := fx.engine.State().Faces
	require.Len(t, faces, 1)
	return faces[0]
}

func TestEngineLocksLargeValidFace(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	// A small face first: initial estimate only, low confidence.
	fx.detector.set(det(100, 100, 200, 200))
	fx.models.result(30, GenderScores{})
	fx.step(t)
	created := fx.onlyFace(t).FirstSeen

	fx.clock.Advance(500 * time.Millisecond)
	fx.detector.set(det(100, 100, 260, 260)) // width 160
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})
	fx.step(t)

	f := fx.onlyFace(t)
	assert.True(t, f.Locked)
	assert.Equal(t, float32(30), f.Age)
	assert.Equal(t, GenderScores{Female: 0.1, Male: 0.9}, f.Gender)
	assert.NotNil(t, f.Thumbnail)
	assert.False(t, f.Inferring)
	assert.Equal(t, fx.clock.Now(), f.FirstSeen)
	assert.True(t, f.FirstSeen.After(created), "firstSeen is reset at lock time")

	fx.sink.mu.Lock()
	defer fx.sink.mu.Unlock()
	require.Len(t, fx.sink.locked, 1)
	assert.Equal(t, f.ID, fx.sink.locked[0].ID)
}

func TestEngineLowConfidenceStaysUnlocked(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	fx.detector.set(det(100, 100, 260, 260))
	fx.models.result(30, GenderScores{}) // classifier below threshold
	fx.step(t)

	f := fx.onlyFace(t)
	assert.False(t, f.Locked)
	assert.Zero(t, f.Age)
	assert.False(t, f.Inferring)
	assert.Nil(t, f.Thumbnail)

	fx.clock.Advance(33 * time.Millisecond)
	fx.step(t)
	assert.Equal(t, int32(2), fx.models.calls.Load(), "identity is retried on the next frame")
}

func TestEngineLockIsFinal(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	fx.detector.set(det(100, 100, 260, 260))
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})
	fx.step(t)
	require.True(t, fx.onlyFace(t).Locked)

	fx.models.result(70, GenderScores{Female: 0.95, Male: 0.05})
	for i := 0; i < 5; i++ {
		fx.clock.Advance(100 * time.Millisecond)
		fx.detector.set(det(110+i, 100, 280+i, 270))
		fx.step(t)
	}

	f := fx.onlyFace(t)
	assert.True(t, f.Locked)
	assert.Equal(t, float32(30), f.Age)
	assert.Equal(t, GenderScores{Female: 0.1, Male: 0.9}, f.Gender)
	assert.Equal(t, image.Rect(114, 100, 284, 270), f.Box, "tracking still moves the box")
	assert.Equal(t, int32(1), fx.models.calls.Load(), "locked identities are not re-dispatched")
}

func TestEngineOnlyFrontFace(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, true)

	turned := det(100, 100, 260, 260)
	turned.Pose = Pose{Yaw: 30}
	fx.detector.set(turned)
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})
	fx.step(t)

	f := fx.onlyFace(t)
	assert.False(t, f.Locked, "profile capture does not lock")
	assert.Equal(t, float32(30), f.Age, "but the estimate is recorded")

	fx.clock.Advance(33 * time.Millisecond)
	fx.detector.set(det(100, 100, 260, 260))
	fx.step(t)
	assert.True(t, fx.onlyFace(t).Locked)
}

func TestEngineSmallFaceNeverLocks(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	fx.detector.set(det(100, 100, 200, 200)) // width 100 < 150
	fx.models.result(25, GenderScores{Female: 0.8, Male: 0.2})
	fx.step(t)
	fx.clock.Advance(33 * time.Millisecond)
	fx.step(t)

	f := fx.onlyFace(t)
	assert.False(t, f.Locked)
	assert.Equal(t, float32(25), f.Age)
	assert.Equal(t, int32(1), fx.models.calls.Load(), "estimated faces below lock width are not re-run")
}

func TestEngineOnlyLargestFaceAttemptsLock(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	fx.detector.set(det(0, 0, 160, 160), det(300, 0, 480, 180))
	fx.models.result(40, GenderScores{Female: 0.9, Male: 0.1})
	fx.step(t)

	faces := fx.engine.State().Faces
	require.Len(t, faces, 2)
	assert.False(t, faces[0].Locked, "wide enough but not the largest")
	assert.True(t, faces[1].Locked)
	assert.Equal(t, float32(40), faces[0].Age)
}

func TestEngineSingleFlightInference(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	fx.models.mu.Lock()
	fx.models.delay = 5 * time.Millisecond
	fx.models.mu.Unlock()
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})

	var dets []Detection
	for i := 0; i < 6; i++ {
		dets = append(dets, det(i*100, 0, i*100+60, 60))
	}
	fx.detector.set(dets...)
	fx.step(t)

	assert.Equal(t, int32(6), fx.models.calls.Load())
	assert.Equal(t, int32(1), fx.models.maxActive.Load(), "inference bodies never overlap")
}

func TestEngineInferringGuardAndDropPolicy(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	gate := make(chan struct{})
	fx.models.mu.Lock()
	fx.models.gate = gate
	fx.models.mu.Unlock()
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})

	d := det(100, 100, 260, 260)
	fx.detector.set(d)
	require.NoError(t, fx.engine.ProcessFrame(context.Background(), fx.frame))

	f := fx.onlyFace(t)
	assert.True(t, f.Inferring)

	// A new frame is dropped, not queued, while inference is in flight.
	err := fx.engine.ProcessFrame(context.Background(), fx.frame)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, fx.engine.Submit(fx.frame), ErrBusy)

	// Even when asked directly, an inferring identity is not re-dispatched.
	fx.engine.dispatch(fx.frame.Image, d, f.ID, true, fx.engine.Settings())
	assert.Equal(t, int32(1), fx.engine.pending.Load())

	close(gate)
	fx.engine.Wait()
	assert.Equal(t, int32(1), fx.models.calls.Load())
	assert.True(t, fx.onlyFace(t).Locked)
	assert.NoError(t, fx.engine.ProcessFrame(context.Background(), fx.frame))
}

func TestEngineModelFailuresAreContained(t *testing.T) {
	t.Parallel()

	t.Run("error", func(t *testing.T) {
		t.Parallel()
		fx := newEngineFixture(t, false)
		fx.models.mu.Lock()
		fx.models.err = errors.New("delegate lost")
		fx.models.mu.Unlock()

		fx.detector.set(det(100, 100, 260, 260))
		fx.step(t)

		f := fx.onlyFace(t)
		assert.False(t, f.Locked)
		assert.False(t, f.Inferring)
		assert.Zero(t, f.Age)
	})

	t.Run("panic", func(t *testing.T) {
		t.Parallel()
		fx := newEngineFixture(t, false)
		fx.models.mu.Lock()
		fx.models.crash = true
		fx.models.mu.Unlock()

		fx.detector.set(det(100, 100, 260, 260))
		fx.step(t)
		assert.False(t, fx.onlyFace(t).Inferring)

		fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})
		fx.clock.Advance(33 * time.Millisecond)
		fx.step(t)
		assert.True(t, fx.onlyFace(t).Locked)
	})
}

func TestEngineDetectionErrorKeepsTracker(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	fx.models.result(30, GenderScores{})

	fx.detector.set(det(100, 100, 200, 200))
	fx.step(t)
	before := fx.onlyFace(t)

	fx.clock.Advance(100 * time.Millisecond)
	fx.detector.fail(errors.New("camera glitch"))
	fx.step(t)

	face, ok := fx.engine.Face(before.ID)
	require.True(t, ok)
	assert.Equal(t, before.LastSeen, face.LastSeen)
}

func TestEngineResultForExpiredIdentityDiscarded(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	gate := make(chan struct{})
	fx.models.mu.Lock()
	fx.models.gate = gate
	fx.models.mu.Unlock()
	fx.models.result(30, GenderScores{Female: 0.1, Male: 0.9})

	fx.detector.set(det(100, 100, 260, 260))
	require.NoError(t, fx.engine.ProcessFrame(context.Background(), fx.frame))
	fx.engine.Clear()
	close(gate)
	fx.engine.Wait()

	assert.Empty(t, fx.engine.State().Faces)
	fx.sink.mu.Lock()
	defer fx.sink.mu.Unlock()
	assert.Empty(t, fx.sink.locked)
}

func TestEnginePlaybackAfterDelay(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)

	fx.detector.set(det(100, 100, 260, 260))
	fx.models.result(60, GenderScores{Female: 0.1, Male: 0.9})
	fx.step(t)
	require.True(t, fx.onlyFace(t).Locked)
	assert.Nil(t, fx.engine.Playback())

	fx.clock.Advance(500 * time.Millisecond)
	fx.step(t)
	assert.Nil(t, fx.engine.Playback(), "still inside the playback delay")

	fx.clock.Advance(500 * time.Millisecond)
	fx.step(t)
	info := fx.engine.Playback()
	require.NotNil(t, info)
	assert.Equal(t, fx.onlyFace(t).ID, info.FaceID)
	assert.True(t, info.IsMale)
	assert.Equal(t, "/videos/glasses.mp4", info.VideoURL)

	fx.clock.Advance(100 * time.Millisecond)
	fx.step(t)
	fx.sink.mu.Lock()
	assert.Len(t, fx.sink.playback, 1, "unchanged selection is not re-emitted")
	fx.sink.mu.Unlock()

	fx.engine.Clear()
	assert.Nil(t, fx.engine.Playback())
	fx.sink.mu.Lock()
	assert.Len(t, fx.sink.playback, 2)
	fx.sink.mu.Unlock()
}

func TestEngineConfigure(t *testing.T) {
	t.Parallel()

	t.Run("frames dropped before models load", func(t *testing.T) {
		t.Parallel()
		e := NewEngine(DefaultEngineConfig(), &fakeDetector{}, func(Settings) (AttributeModels, error) {
			return nil, errors.New("missing model file")
		})
		defer e.Close()

		err := e.Configure(context.Background(), Settings{})
		require.Error(t, err)
		assert.False(t, e.ModelsReady())
		assert.ErrorIs(t, e.ProcessFrame(context.Background(), Frame{Image: image.NewRGBA(image.Rect(0, 0, 10, 10))}), ErrModelsNotReady)
	})

	t.Run("reload only on change", func(t *testing.T) {
		t.Parallel()
		var loads []*fakeModels
		e := NewEngine(DefaultEngineConfig(), &fakeDetector{}, func(Settings) (AttributeModels, error) {
			m := &fakeModels{}
			loads = append(loads, m)
			return m, nil
		})
		defer e.Close()

		ctx := context.Background()
		require.NoError(t, e.Configure(ctx, Settings{InferenceMode: "cpu"}))
		require.NoError(t, e.Configure(ctx, Settings{InferenceMode: ModeCPU}))
		assert.Len(t, loads, 1)

		require.NoError(t, e.Configure(ctx, Settings{InferenceMode: ModeGPU, ModelVariant: 2}))
		require.Len(t, loads, 2)
		assert.True(t, loads[0].closed.Load(), "previous models are torn down first")
		assert.Equal(t, ModeGPU, e.Settings().InferenceMode)
		assert.True(t, e.State().ModelsReady)

		require.NoError(t, e.Close())
		assert.True(t, loads[1].closed.Load())
	})

	t.Run("rejects bad settings", func(t *testing.T) {
		t.Parallel()
		e := NewEngine(DefaultEngineConfig(), &fakeDetector{}, func(Settings) (AttributeModels, error) {
			return &fakeModels{}, nil
		})
		defer e.Close()
		assert.Error(t, e.Configure(context.Background(), Settings{InferenceMode: "TPU"}))
		assert.Error(t, e.Configure(context.Background(), Settings{ModelVariant: 9}))
	})
}

func TestEngineSubmitAndClose(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	fx.detector.set(det(10, 10, 60, 60))
	fx.models.result(30, GenderScores{})

	states, cancel := fx.engine.SubscribeState()
	defer cancel()
	<-states // current value

	require.NoError(t, fx.engine.Submit(fx.frame))
	fx.engine.Wait()

	st := <-states
	assert.Equal(t, 640, fx.engine.State().PreviewWidth)
	assert.Equal(t, 480, fx.engine.State().PreviewHeight)
	assert.True(t, st.ModelsReady)
	assert.Len(t, fx.engine.State().Faces, 1)

	require.NoError(t, fx.engine.Close())
	assert.ErrorIs(t, fx.engine.Submit(fx.frame), ErrEngineClosed)
	assert.True(t, fx.models.closed.Load())
}

func TestEngineRotatesBeforeDetection(t *testing.T) {
	t.Parallel()
	fx := newEngineFixture(t, false)
	fx.frame.Rotation = 90

	fx.step(t)
	st := fx.engine.State()
	assert.Equal(t, 480, st.PreviewWidth)
	assert.Equal(t, 640, st.PreviewHeight)
}
