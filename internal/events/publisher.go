// Package events turns engine lock and playback transitions into audience
// events: thumbnails go to object storage and events go to the EVENTS stream.
package events

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/observability"
	"github.com/your-org/facekiosk/internal/storage"
	"github.com/your-org/facekiosk/internal/vision"
)

const (
	defaultQueueSize = 64
	publishTimeout   = 5 * time.Second
	snapshotQuality  = 85
)

// SnapshotStore uploads encoded thumbnails.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EventPublisher delivers events to the message bus.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev *models.AudienceEvent) error
}

type job struct {
	event     models.AudienceEvent
	thumbnail image.Image
}

// Publisher implements vision.EventSink. Engine callbacks only enqueue; a
// single Run goroutine uploads and publishes. A full queue drops the event.
type Publisher struct {
	kioskID   string
	sessionID uuid.UUID
	store     SnapshotStore // nil disables snapshots
	bus       EventPublisher
	now       func() time.Time

	queue chan job

	mu     sync.RWMutex
	closed bool
}

// NewPublisher creates a publisher for one kiosk session. store may be nil.
func NewPublisher(kioskID string, store SnapshotStore, bus EventPublisher, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Publisher{
		kioskID:   kioskID,
		sessionID: uuid.New(),
		store:     store,
		bus:       bus,
		now:       time.Now,
		queue:     make(chan job, queueSize),
	}
}

// SessionID identifies this process run; face ids are only unique within it.
func (p *Publisher) SessionID() uuid.UUID {
	return p.sessionID
}

// FaceLocked queues a face_locked event carrying the lock-time thumbnail.
func (p *Publisher) FaceLocked(f vision.Identity) {
	ev := p.newEvent(models.EventFaceLocked, f.ID)
	ev.Age = f.Age
	ev.AgeBand = vision.AgeBand(f.Age)
	ev.Gender = genderLabel(f.Gender.IsMale())
	ev.GenderConfidence = f.Gender.Max()
	p.enqueue(job{event: ev, thumbnail: f.Thumbnail})
}

// PlaybackChanged queues a playback_changed event. A nil info means playback
// stopped and yields an event with face id 0.
func (p *Publisher) PlaybackChanged(info *vision.PlaybackInfo) {
	if info == nil {
		p.enqueue(job{event: p.newEvent(models.EventPlaybackChanged, 0)})
		return
	}
	ev := p.newEvent(models.EventPlaybackChanged, info.FaceID)
	ev.Age = info.Age
	ev.AgeBand = vision.AgeBand(info.Age)
	ev.Gender = genderLabel(info.IsMale)
	ev.VideoURL = info.VideoURL
	p.enqueue(job{event: ev})
}

func (p *Publisher) newEvent(typ string, faceID int) models.AudienceEvent {
	return models.AudienceEvent{
		ID:         uuid.New(),
		KioskID:    p.kioskID,
		SessionID:  p.sessionID,
		Type:       typ,
		FaceID:     faceID,
		OccurredAt: p.now(),
	}
}

func (p *Publisher) enqueue(j job) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.EventsDropped.WithLabelValues("closed").Inc()
		return
	}
	select {
	case p.queue <- j:
		observability.EventQueueDepth.Set(float64(len(p.queue)))
	default:
		observability.EventsDropped.WithLabelValues("queue_full").Inc()
		slog.Warn("event queue full, dropping event", "type", j.event.Type, "face", j.event.FaceID)
	}
}

// Run publishes queued events until ctx is done or Close drains the queue.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			observability.EventQueueDepth.Set(float64(len(p.queue)))
			p.handle(ctx, j)
		}
	}
}

// Close stops accepting events. Run returns once queued events are handled.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
}

func (p *Publisher) handle(ctx context.Context, j job) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	ev := j.event
	if j.thumbnail != nil && p.store != nil {
		key := storage.SnapshotKey(p.sessionID.String(), ev.FaceID, ev.OccurredAt)
		if err := p.upload(ctx, key, j.thumbnail); err != nil {
			slog.Warn("save snapshot", "face", ev.FaceID, "error", err)
		} else {
			ev.SnapshotKey = key
		}
	}

	if err := p.bus.PublishEvent(ctx, &ev); err != nil {
		observability.EventsDropped.WithLabelValues("publish_error").Inc()
		slog.Warn("publish event", "type", ev.Type, "face", ev.FaceID, "error", err)
		return
	}
	observability.EventsPublished.WithLabelValues(ev.Type).Inc()
	slog.Debug("event published", "type", ev.Type, "face", ev.FaceID, "id", ev.ID)
}

func (p *Publisher) upload(ctx context.Context, key string, img image.Image) error {
	data, err := vision.EncodeJPEG(img, snapshotQuality)
	if err != nil {
		return err
	}
	return p.store.PutObject(ctx, key, data, "image/jpeg")
}

func genderLabel(isMale bool) string {
	if isMale {
		return "male"
	}
	return "female"
}
