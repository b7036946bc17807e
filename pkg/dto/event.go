package dto

import "github.com/google/uuid"

type EventResponse struct {
	ID               uuid.UUID `json:"id"`
	KioskID          string    `json:"kiosk_id"`
	SessionID        uuid.UUID `json:"session_id"`
	Type             string    `json:"type"`
	FaceID           int       `json:"face_id"`
	Age              float32   `json:"age"`
	AgeBand          string    `json:"age_band"`
	Gender           string    `json:"gender,omitempty"`
	GenderConfidence float32   `json:"gender_confidence"`
	VideoURL         string    `json:"video_url,omitempty"`
	SnapshotURL      string    `json:"snapshot_url,omitempty"`
	OccurredAt       string    `json:"occurred_at"`
	CreatedAt        string    `json:"created_at"`
}

type EventListResponse struct {
	Events []EventResponse `json:"events"`
	Total  int             `json:"total"`
}

type EventQuery struct {
	KioskID string `form:"kiosk_id"`
	Type    string `form:"type"`
	From    string `form:"from"`
	To      string `form:"to"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

// EventStatsResponse aggregates stored events per age band and gender.
type EventStatsResponse struct {
	Total  int           `json:"total"`
	Counts []EventBucket `json:"counts"`
}

type EventBucket struct {
	AgeBand string `json:"age_band"`
	Gender  string `json:"gender"`
	Count   int    `json:"count"`
}
