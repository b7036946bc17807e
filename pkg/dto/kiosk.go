package dto

// WSMessage is pushed to live WebSocket clients.
type WSMessage struct {
	Type string `json:"type"` // state, playback
	Data any    `json:"data"`
}

type BoxResponse struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type GenderResponse struct {
	Female float32 `json:"female"`
	Male   float32 `json:"male"`
	IsMale bool    `json:"is_male"`
}

type FaceResponse struct {
	ID           int             `json:"id"`
	Box          BoxResponse     `json:"box"`
	Age          float32         `json:"age,omitempty"`
	Gender       *GenderResponse `json:"gender,omitempty"`
	Locked       bool            `json:"locked"`
	Inferring    bool            `json:"inferring"`
	FirstSeen    string          `json:"first_seen"`
	LastSeen     string          `json:"last_seen"`
	ThumbnailURL string          `json:"thumbnail_url,omitempty"`
}

type StateResponse struct {
	Faces         []FaceResponse `json:"faces"`
	PreviewWidth  int            `json:"preview_width"`
	PreviewHeight int            `json:"preview_height"`
	ModelsReady   bool           `json:"models_ready"`
	Processing    bool           `json:"processing"`
	CameraFPS     float64        `json:"camera_fps"`
	DetectionFPS  float64        `json:"detection_fps"`
	UpdatedAt     string         `json:"updated_at,omitempty"`
}

type PlaybackResponse struct {
	FaceID       int     `json:"face_id"`
	IsMale       bool    `json:"is_male"`
	Age          float32 `json:"age"`
	AgeBand      string  `json:"age_band"`
	VideoURL     string  `json:"video_url"`
	ThumbnailURL string  `json:"thumbnail_url,omitempty"`
	SelectedAt   string  `json:"selected_at"`
}

type StatsResponse struct {
	CameraFPS     float64 `json:"camera_fps"`
	DetectionFPS  float64 `json:"detection_fps"`
	PreviewWidth  int     `json:"preview_width"`
	PreviewHeight int     `json:"preview_height"`
	TrackedFaces  int     `json:"tracked_faces"`
	LockedFaces   int     `json:"locked_faces"`
	ModelsReady   bool    `json:"models_ready"`
	Processing    bool    `json:"processing"`
	Camera        string  `json:"camera"`
	CameraError   string  `json:"camera_error,omitempty"`
}

type VariantResponse struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	AgeFile    string `json:"age_file"`
	GenderFile string `json:"gender_file"`
}

type SettingsResponse struct {
	InferenceMode string            `json:"inference_mode"`
	OnlyFrontFace bool              `json:"only_front_face"`
	ModelVariant  int               `json:"model_variant"`
	ModelsReady   bool              `json:"models_ready"`
	Modes         []string          `json:"modes"`
	Variants      []VariantResponse `json:"variants"`
}

// UpdateSettingsRequest is a partial update; omitted fields are kept.
type UpdateSettingsRequest struct {
	InferenceMode *string `json:"inference_mode"`
	OnlyFrontFace *bool   `json:"only_front_face"`
	ModelVariant  *int    `json:"model_variant"`
}
