package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facekiosk/internal/ingest"
	"github.com/your-org/facekiosk/internal/vision"
	"github.com/your-org/facekiosk/pkg/dto"
)

type fakeEngine struct {
	mu         sync.Mutex
	state      vision.State
	playback   *vision.PlaybackInfo
	settings   vision.Settings
	ready      bool
	configured []vision.Settings
	configErr  error
	cleared    int
}

func (e *fakeEngine) State() vision.State { return e.state }
func (e *fakeEngine) Playback() *vision.PlaybackInfo { return e.playback }
func (e *fakeEngine) Face(id int) (vision.Identity, bool) {
	return e.state.Face(id)
}
func (e *fakeEngine) Settings() vision.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}
func (e *fakeEngine) ModelsReady() bool { return e.ready }
func (e *fakeEngine) Configure(_ context.Context, s vision.Settings) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.configErr != nil {
		return e.configErr
	}
	e.configured = append(e.configured, s)
	e.settings = s
	return nil
}
func (e *fakeEngine) Clear() { e.cleared++ }

type fakeCamera struct{ status ingest.CameraStatus }

func (c fakeCamera) Status() ingest.CameraStatus { return c.status }

func kioskRouter(e *fakeEngine, cam CameraStatus) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewKioskHandler(e, cam)
	r := gin.New()
	r.GET("/v1/faces", h.Faces)
	r.POST("/v1/faces/clear", h.Clear)
	r.GET("/v1/faces/:id/thumbnail", h.Thumbnail)
	r.GET("/v1/playback", h.Playback)
	r.GET("/v1/stats", h.Stats)
	r.GET("/v1/settings", h.GetSettings)
	r.PUT("/v1/settings", h.UpdateSettings)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleEngine() *fakeEngine {
	now := time.Unix(1700000000, 0)
	return &fakeEngine{
		ready:    true,
		settings: vision.Settings{InferenceMode: vision.ModeCPU, OnlyFrontFace: true},
		state: vision.State{
			Faces: []vision.Identity{
				{ID: 1, Box: image.Rect(10, 20, 110, 140), FirstSeen: now, LastSeen: now},
				{
					ID: 2, Box: image.Rect(200, 20, 400, 260), Age: 41, Locked: true,
					Gender:    vision.GenderScores{Female: 0.85, Male: 0.15},
					Thumbnail: image.NewRGBA(image.Rect(0, 0, 32, 32)),
					FirstSeen: now, LastSeen: now,
				},
			},
			PreviewWidth:  640,
			PreviewHeight: 480,
			ModelsReady:   true,
			CameraFPS:     14.8,
			DetectionFPS:  9.5,
		},
	}
}

func TestKioskFaces(t *testing.T) {
	w := do(kioskRouter(sampleEngine(), nil), http.MethodGet, "/v1/faces", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Faces, 2)
	assert.Equal(t, dto.BoxResponse{X: 10, Y: 20, Width: 100, Height: 120}, resp.Faces[0].Box)
	assert.Nil(t, resp.Faces[0].Gender)
	assert.Empty(t, resp.Faces[0].ThumbnailURL)

	locked := resp.Faces[1]
	assert.True(t, locked.Locked)
	require.NotNil(t, locked.Gender)
	assert.False(t, locked.Gender.IsMale)
	assert.Equal(t, "/v1/faces/2/thumbnail", locked.ThumbnailURL)
	assert.Equal(t, 640, resp.PreviewWidth)
}

func TestKioskThumbnail(t *testing.T) {
	r := kioskRouter(sampleEngine(), nil)

	w := do(r, http.MethodGet, "/v1/faces/2/thumbnail", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, []byte{0xFF, 0xD8}, w.Body.Bytes()[:2])

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/faces/1/thumbnail", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/faces/9/thumbnail", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/v1/faces/abc/thumbnail", "").Code)
}

func TestKioskPlayback(t *testing.T) {
	e := sampleEngine()
	r := kioskRouter(e, nil)
	assert.Equal(t, http.StatusNoContent, do(r, http.MethodGet, "/v1/playback", "").Code)

	e.playback = &vision.PlaybackInfo{FaceID: 2, Age: 41, VideoURL: "/videos/woman_middle.mp4", Thumbnail: image.NewRGBA(image.Rect(0, 0, 1, 1))}
	w := do(r, http.MethodGet, "/v1/playback", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.PlaybackResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.FaceID)
	assert.Equal(t, "middle", resp.AgeBand)
	assert.Equal(t, "/videos/woman_middle.mp4", resp.VideoURL)
	assert.Equal(t, "/v1/faces/2/thumbnail", resp.ThumbnailURL)
}

func TestKioskStats(t *testing.T) {
	cam := fakeCamera{status: ingest.CameraStatus{State: ingest.StateRetrying, LastError: "no such device"}}
	w := do(kioskRouter(sampleEngine(), cam), http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StatsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TrackedFaces)
	assert.Equal(t, 1, resp.LockedFaces)
	assert.InDelta(t, 14.8, resp.CameraFPS, 1e-9)
	assert.Equal(t, "retrying", resp.Camera)
	assert.Equal(t, "no such device", resp.CameraError)
}

func TestKioskSettings(t *testing.T) {
	e := sampleEngine()
	r := kioskRouter(e, nil)

	w := do(r, http.MethodGet, "/v1/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got dto.SettingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "CPU", got.InferenceMode)
	assert.Len(t, got.Variants, len(vision.ModelVariants))
	assert.Equal(t, []string{"CPU", "NNAPI", "GPU"}, got.Modes)

	t.Run("partial update keeps other fields", func(t *testing.T) {
		w := do(r, http.MethodPut, "/v1/settings", `{"inference_mode":"gpu"}`)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		require.Len(t, e.configured, 1)
		assert.Equal(t, vision.Settings{InferenceMode: vision.ModeGPU, OnlyFrontFace: true}, e.configured[0])
	})

	t.Run("invalid variant", func(t *testing.T) {
		w := do(r, http.MethodPut, "/v1/settings", `{"model_variant":99}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Len(t, e.configured, 1)
	})

	t.Run("malformed body", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/v1/settings", `{`).Code)
	})

	t.Run("load failure", func(t *testing.T) {
		e.configErr = errors.New("model file missing")
		defer func() { e.configErr = nil }()
		assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodPut, "/v1/settings", `{"model_variant":1}`).Code)
	})
}

func TestKioskClear(t *testing.T) {
	e := sampleEngine()
	w := do(kioskRouter(e, nil), http.MethodPost, "/v1/faces/clear", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, e.cleared)
}

func TestReadyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewSystemHandler(
		Check{Name: "models", Probe: func(context.Context) error { return nil }},
		Check{Name: "nats", Probe: func(context.Context) error { return errors.New("nats not connected") }},
	)
	r := gin.New()
	r.GET("/readyz", h.Readyz)

	w := do(r, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "nats not connected")
	assert.Contains(t, w.Body.String(), `"models":"ok"`)
}
