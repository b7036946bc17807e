package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facekiosk/internal/ingest"
	"github.com/your-org/facekiosk/internal/vision"
	"github.com/your-org/facekiosk/pkg/dto"
)

const thumbnailQuality = 90

// Engine is the part of vision.Engine the live API uses.
type Engine interface {
	State() vision.State
	Playback() *vision.PlaybackInfo
	Face(id int) (vision.Identity, bool)
	Settings() vision.Settings
	ModelsReady() bool
	Configure(ctx context.Context, s vision.Settings) error
	Clear()
}

// CameraStatus reports the frame source state.
type CameraStatus interface {
	Status() ingest.CameraStatus
}

type KioskHandler struct {
	engine Engine
	camera CameraStatus // nil when frames come from elsewhere
}

func NewKioskHandler(engine Engine, camera CameraStatus) *KioskHandler {
	return &KioskHandler{engine: engine, camera: camera}
}

// Faces returns the tracked identities.
func (h *KioskHandler) Faces(c *gin.Context) {
	c.JSON(http.StatusOK, StateResponse(h.engine.State()))
}

// Thumbnail serves the face crop captured when the identity locked.
func (h *KioskHandler) Thumbnail(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid face id"})
		return
	}

	face, ok := h.engine.Face(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
		return
	}
	if face.Thumbnail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "face not locked"})
		return
	}

	data, err := vision.EncodeJPEG(face.Thumbnail, thumbnailQuality)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "private, max-age=60")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Playback returns the current selection, or 204 when nothing plays.
func (h *KioskHandler) Playback(c *gin.Context) {
	p := h.engine.Playback()
	if p == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, PlaybackResponse(p))
}

func (h *KioskHandler) Stats(c *gin.Context) {
	s := h.engine.State()
	resp := dto.StatsResponse{
		CameraFPS:     s.CameraFPS,
		DetectionFPS:  s.DetectionFPS,
		PreviewWidth:  s.PreviewWidth,
		PreviewHeight: s.PreviewHeight,
		TrackedFaces:  len(s.Faces),
		ModelsReady:   s.ModelsReady,
		Processing:    s.Processing,
	}
	for _, f := range s.Faces {
		if f.Locked {
			resp.LockedFaces++
		}
	}
	if h.camera != nil {
		st := h.camera.Status()
		resp.Camera = st.State
		resp.CameraError = st.LastError
	}
	c.JSON(http.StatusOK, resp)
}

func (h *KioskHandler) GetSettings(c *gin.Context) {
	c.JSON(http.StatusOK, settingsResponse(h.engine.Settings(), h.engine.ModelsReady()))
}

// UpdateSettings applies a partial settings update. Any change reloads the
// models; the request returns once they are ready.
func (h *KioskHandler) UpdateSettings(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.engine.Settings().Merge(req.InferenceMode, req.OnlyFrontFace, req.ModelVariant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.engine.Configure(c.Request.Context(), next); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, vision.ErrEngineClosed) {
			status = http.StatusServiceUnavailable
		}
		slog.Error("apply settings", "settings", next, "error", err)
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	slog.Info("settings updated", "mode", next.InferenceMode, "variant", next.ModelVariant, "only_front_face", next.OnlyFrontFace)
	c.JSON(http.StatusOK, settingsResponse(h.engine.Settings(), h.engine.ModelsReady()))
}

// Clear drops every tracked identity.
func (h *KioskHandler) Clear(c *gin.Context) {
	h.engine.Clear()
	c.Status(http.StatusNoContent)
}
