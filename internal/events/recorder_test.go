package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facekiosk/internal/models"
)

type memEventStore struct {
	byID map[uuid.UUID]models.AudienceEvent
	err  error
}

func (s *memEventStore) InsertEvent(_ context.Context, ev *models.AudienceEvent) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if s.byID == nil {
		s.byID = map[uuid.UUID]models.AudienceEvent{}
	}
	if _, ok := s.byID[ev.ID]; ok {
		return false, nil
	}
	s.byID[ev.ID] = *ev
	return true, nil
}

func encode(t *testing.T, ev models.AudienceEvent) []byte {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	return data
}

func TestRecorderStoresOnce(t *testing.T) {
	store := &memEventStore{}
	r := NewRecorder(store)
	ev := models.AudienceEvent{
		ID: uuid.New(), KioskID: "lobby", SessionID: uuid.New(),
		Type: models.EventFaceLocked, FaceID: 2, Age: 30, AgeBand: "middle", Gender: "female",
		OccurredAt: time.Unix(1700000000, 0).UTC(),
	}

	require.NoError(t, r.Record(context.Background(), encode(t, ev)))
	require.NoError(t, r.Record(context.Background(), encode(t, ev)), "redelivery is not an error")
	require.Len(t, store.byID, 1)
	assert.Equal(t, "female", store.byID[ev.ID].Gender)
}

func TestRecorderDropsMalformed(t *testing.T) {
	store := &memEventStore{}
	r := NewRecorder(store)

	assert.NoError(t, r.Record(context.Background(), []byte("{not json")))
	assert.NoError(t, r.Record(context.Background(), encode(t, models.AudienceEvent{ID: uuid.New(), Type: models.EventFaceLocked, OccurredAt: time.Now()})))
	assert.NoError(t, r.Record(context.Background(), encode(t, models.AudienceEvent{ID: uuid.New(), KioskID: "k", Type: "face_seen", OccurredAt: time.Now()})))
	assert.Empty(t, store.byID)
}

func TestRecorderRetriesStorageErrors(t *testing.T) {
	r := NewRecorder(&memEventStore{err: errors.New("connection refused")})
	err := r.Record(context.Background(), encode(t, models.AudienceEvent{
		ID: uuid.New(), KioskID: "k", Type: models.EventPlaybackChanged, OccurredAt: time.Now(),
	}))
	assert.ErrorContains(t, err, "connection refused")
}
