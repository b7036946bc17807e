package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types published by a kiosk.
const (
	EventFaceLocked      = "face_locked"
	EventPlaybackChanged = "playback_changed"
)

// AudienceEvent is published to NATS by a kiosk and stored by the collector.
type AudienceEvent struct {
	ID               uuid.UUID `json:"id" db:"id"`
	KioskID          string    `json:"kiosk_id" db:"kiosk_id"`
	SessionID        uuid.UUID `json:"session_id" db:"session_id"`
	Type             string    `json:"type" db:"type"`
	FaceID           int       `json:"face_id" db:"face_id"`
	Age              float32   `json:"age" db:"age"`
	AgeBand          string    `json:"age_band" db:"age_band"`
	Gender           string    `json:"gender,omitempty" db:"gender"` // male, female or empty when playback stopped
	GenderConfidence float32   `json:"gender_confidence" db:"gender_confidence"`
	VideoURL         string    `json:"video_url,omitempty" db:"video_url"`
	SnapshotKey      string    `json:"snapshot_key,omitempty" db:"snapshot_key"` // MinIO key of the locked thumbnail
	OccurredAt       time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// Control actions understood by a kiosk.
const (
	ControlSettings = "settings"
	ControlClear    = "clear"
)

// ControlCommand is sent to kiosk.control.<kiosk_id> over raw NATS.
// Nil settings fields keep the kiosk's current value.
type ControlCommand struct {
	Action        string  `json:"action"`
	InferenceMode *string `json:"inference_mode,omitempty"`
	OnlyFrontFace *bool   `json:"only_front_face,omitempty"`
	ModelVariant  *int    `json:"model_variant,omitempty"`
}
