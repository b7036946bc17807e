package handlers

import (
	"strconv"
	"time"

	"github.com/your-org/facekiosk/internal/models"
	"github.com/your-org/facekiosk/internal/vision"
	"github.com/your-org/facekiosk/pkg/dto"
)

func thumbnailURL(faceID int) string {
	return "/v1/faces/" + strconv.Itoa(faceID) + "/thumbnail"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// FaceResponse converts a tracked identity.
func FaceResponse(f vision.Identity) dto.FaceResponse {
	r := dto.FaceResponse{
		ID: f.ID,
		Box: dto.BoxResponse{
			X:      f.Box.Min.X,
			Y:      f.Box.Min.Y,
			Width:  f.Box.Dx(),
			Height: f.Box.Dy(),
		},
		Age:       f.Age,
		Locked:    f.Locked,
		Inferring: f.Inferring,
		FirstSeen: formatTime(f.FirstSeen),
		LastSeen:  formatTime(f.LastSeen),
	}
	if f.Gender.IsSet() {
		r.Gender = &dto.GenderResponse{
			Female: f.Gender.Female,
			Male:   f.Gender.Male,
			IsMale: f.Gender.IsMale(),
		}
	}
	if f.Thumbnail != nil {
		r.ThumbnailURL = thumbnailURL(f.ID)
	}
	return r
}

// StateResponse converts an engine snapshot.
func StateResponse(s vision.State) dto.StateResponse {
	faces := make([]dto.FaceResponse, 0, len(s.Faces))
	for _, f := range s.Faces {
		faces = append(faces, FaceResponse(f))
	}
	return dto.StateResponse{
		Faces:         faces,
		PreviewWidth:  s.PreviewWidth,
		PreviewHeight: s.PreviewHeight,
		ModelsReady:   s.ModelsReady,
		Processing:    s.Processing,
		CameraFPS:     s.CameraFPS,
		DetectionFPS:  s.DetectionFPS,
		UpdatedAt:     formatTime(s.UpdatedAt),
	}
}

// PlaybackResponse converts a playback selection; nil stays nil.
func PlaybackResponse(p *vision.PlaybackInfo) *dto.PlaybackResponse {
	if p == nil {
		return nil
	}
	r := &dto.PlaybackResponse{
		FaceID:     p.FaceID,
		IsMale:     p.IsMale,
		Age:        p.Age,
		AgeBand:    vision.AgeBand(p.Age),
		VideoURL:   p.VideoURL,
		SelectedAt: formatTime(p.SelectedAt),
	}
	if p.Thumbnail != nil {
		r.ThumbnailURL = thumbnailURL(p.FaceID)
	}
	return r
}

func settingsResponse(s vision.Settings, ready bool) dto.SettingsResponse {
	modes := make([]string, 0, len(vision.InferenceModes))
	for _, m := range vision.InferenceModes {
		modes = append(modes, string(m))
	}
	variants := make([]dto.VariantResponse, 0, len(vision.ModelVariants))
	for i, v := range vision.ModelVariants {
		variants = append(variants, dto.VariantResponse{
			Index:      i,
			Name:       v.Name,
			AgeFile:    v.AgeFile,
			GenderFile: v.GenderFile,
		})
	}
	return dto.SettingsResponse{
		InferenceMode: string(s.InferenceMode),
		OnlyFrontFace: s.OnlyFrontFace,
		ModelVariant:  s.ModelVariant,
		ModelsReady:   ready,
		Modes:         modes,
		Variants:      variants,
	}
}

func eventResponse(ev models.AudienceEvent) dto.EventResponse {
	r := dto.EventResponse{
		ID:               ev.ID,
		KioskID:          ev.KioskID,
		SessionID:        ev.SessionID,
		Type:             ev.Type,
		FaceID:           ev.FaceID,
		Age:              ev.Age,
		AgeBand:          ev.AgeBand,
		Gender:           ev.Gender,
		GenderConfidence: ev.GenderConfidence,
		VideoURL:         ev.VideoURL,
		OccurredAt:       ev.OccurredAt.Format(time.RFC3339),
		CreatedAt:        ev.CreatedAt.Format(time.RFC3339),
	}
	if ev.SnapshotKey != "" {
		r.SnapshotURL = "/v1/events/" + ev.ID.String() + "/snapshot"
	}
	return r
}
