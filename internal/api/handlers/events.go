package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/storage"
	"github.com/your-org/facekiosk/pkg/dto"
)

// EventStore is the audience history the collector serves.
type EventStore interface {
	QueryEvents(ctx context.Context, f storage.EventFilter) ([]models.AudienceEvent, int, error)
	GetEvent(ctx context.Context, id uuid.UUID) (*models.AudienceEvent, error)
	CountLocked(ctx context.Context, f storage.EventFilter) ([]storage.AudienceCount, error)
}

// ObjectReader fetches stored snapshots.
type ObjectReader interface {
	GetObject(ctx context.Context, key string) ([]byte, error)
}

type EventHandler struct {
	db    EventStore
	minio ObjectReader
}

func NewEventHandler(db EventStore, minio ObjectReader) *EventHandler {
	return &EventHandler{db: db, minio: minio}
}

func parseFilter(c *gin.Context) (storage.EventFilter, bool) {
	var q dto.EventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return storage.EventFilter{}, false
	}

	f := storage.EventFilter{
		KioskID: q.KioskID,
		Type:    q.Type,
		Limit:   q.Limit,
		Offset:  q.Offset,
	}
	switch q.Type {
	case "", models.EventFaceLocked, models.EventPlaybackChanged:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type"})
		return f, false
	}
	if q.From != "" {
		t, err := time.Parse(time.RFC3339, q.From)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: expected RFC3339"})
			return f, false
		}
		f.From = &t
	}
	if q.To != "" {
		t, err := time.Parse(time.RFC3339, q.To)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: expected RFC3339"})
			return f, false
		}
		f.To = &t
	}
	return f, true
}

func (h *EventHandler) List(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}

	events, total, err := h.db.QueryEvents(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := make([]dto.EventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, eventResponse(ev))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}

func (h *EventHandler) Get(c *gin.Context) {
	ev, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, eventResponse(*ev))
}

// Snapshot proxies the locked-face thumbnail from MinIO.
func (h *EventHandler) Snapshot(c *gin.Context) {
	ev, ok := h.lookup(c)
	if !ok {
		return
	}
	if ev.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "event has no snapshot"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), ev.SnapshotKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", data)
}

// Stats counts locked faces per age band and gender.
func (h *EventHandler) Stats(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}

	counts, err := h.db.CountLocked(c.Request.Context(), f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.EventStatsResponse{Counts: make([]dto.EventBucket, 0, len(counts))}
	for _, cnt := range counts {
		resp.Total += cnt.Count
		resp.Counts = append(resp.Counts, dto.EventBucket{AgeBand: cnt.AgeBand, Gender: cnt.Gender, Count: cnt.Count})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *EventHandler) lookup(c *gin.Context) (*models.AudienceEvent, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return nil, false
	}
	ev, err := h.db.GetEvent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return ev, true
}
