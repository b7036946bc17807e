package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/vision"
	"github.com/your-org/facekiosk/pkg/dto"
)

// ControlPublisher sends commands to kiosks.
type ControlPublisher interface {
	PublishControl(kioskID string, cmd models.ControlCommand) error
}

// ControlHandler lets the backend push settings and clear commands to a kiosk.
type ControlHandler struct {
	producer ControlPublisher
}

func NewControlHandler(producer ControlPublisher) *ControlHandler {
	return &ControlHandler{producer: producer}
}

func (h *ControlHandler) UpdateSettings(c *gin.Context) {
	var req dto.UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.InferenceMode == nil && req.OnlyFrontFace == nil && req.ModelVariant == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no settings given"})
		return
	}
	// Validate against a throwaway base; the kiosk merges into its own settings.
	if _, err := (vision.Settings{}).Merge(req.InferenceMode, req.OnlyFrontFace, req.ModelVariant); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.send(c, models.ControlCommand{
		Action:        models.ControlSettings,
		InferenceMode: req.InferenceMode,
		OnlyFrontFace: req.OnlyFrontFace,
		ModelVariant:  req.ModelVariant,
	})
}

func (h *ControlHandler) Clear(c *gin.Context) {
	h.send(c, models.ControlCommand{Action: models.ControlClear})
}

func (h *ControlHandler) send(c *gin.Context, cmd models.ControlCommand) {
	kioskID := c.Param("id")
	if err := h.producer.PublishControl(kioskID, cmd); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent", "kiosk_id": kioskID, "action": cmd.Action})
}
