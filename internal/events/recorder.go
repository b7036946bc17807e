package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/observability"
)

// EventStore persists audience events.
type EventStore interface {
	InsertEvent(ctx context.Context, ev *models.AudienceEvent) (bool, error)
}

// Recorder stores events consumed from the EVENTS stream.
type Recorder struct {
	store EventStore
}

func NewRecorder(store EventStore) *Recorder {
	return &Recorder{store: store}
}

// Handle is a queue.MessageHandler.
func (r *Recorder) Handle(ctx context.Context, msg jetstream.Msg) error {
	return r.Record(ctx, msg.Data())
}

// Record decodes and stores one event. Malformed events are dropped without
// error so they are not redelivered; storage errors are returned for retry.
func (r *Recorder) Record(ctx context.Context, data []byte) error {
	var ev models.AudienceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		observability.EventsRejected.Inc()
		slog.Error("unmarshal audience event", "error", err)
		return nil
	}
	if err := validate(&ev); err != nil {
		observability.EventsRejected.Inc()
		slog.Warn("invalid audience event", "id", ev.ID, "error", err)
		return nil
	}

	inserted, err := r.store.InsertEvent(ctx, &ev)
	if err != nil {
		return fmt.Errorf("store event %s: %w", ev.ID, err)
	}
	if !inserted {
		slog.Debug("duplicate audience event", "id", ev.ID)
		return nil
	}
	observability.EventsStored.WithLabelValues(ev.Type).Inc()
	return nil
}

func validate(ev *models.AudienceEvent) error {
	switch {
	case ev.KioskID == "":
		return fmt.Errorf("missing kiosk id")
	case ev.Type != models.EventFaceLocked && ev.Type != models.EventPlaybackChanged:
		return fmt.Errorf("unknown type %q", ev.Type)
	case ev.OccurredAt.IsZero():
		return fmt.Errorf("missing occurred_at")
	}
	return nil
}
