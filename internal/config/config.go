package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/your-org/facekiosk/internal/vision"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	NATS      NATSConfig      `yaml:"nats"`
	MinIO     MinIOConfig     `yaml:"minio"`
	Camera    CameraConfig    `yaml:"camera"`
	Vision    VisionConfig    `yaml:"vision"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Collector CollectorConfig `yaml:"collector"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
	// KioskID scopes event and control subjects to this device.
	KioskID string `yaml:"kiosk_id"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CameraConfig selects the frame source: a V4L2 device such as /dev/video0,
// an RTSP or HTTP URL, a YouTube link or a video file.
type CameraConfig struct {
	Source   string `yaml:"source"`
	Format   string `yaml:"format"` // V4L2 input format, e.g. mjpeg; empty lets the driver choose
	FPS      int    `yaml:"fps"`
	Width    int    `yaml:"width"`
	Rotation int    `yaml:"rotation"`
	Loop     bool   `yaml:"loop"` // restart file sources at EOF
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectorModel      string  `yaml:"detector_model"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	GenderThreshold    float64 `yaml:"gender_threshold"`
	ModelVariant       int     `yaml:"model_variant"`
	InferenceMode      string  `yaml:"inference_mode"`
	OnlyFrontFace      *bool   `yaml:"only_front_face"`
	NumThreads         int     `yaml:"num_threads"`
}

type TrackingConfig struct {
	MatchGate         float64       `yaml:"match_gate"`
	Expiry            time.Duration `yaml:"expiry"`
	MinLockWidth      int           `yaml:"min_lock_width"`
	FrontFaceMaxAngle float64       `yaml:"front_face_max_angle"`
	CropPadding       float64       `yaml:"crop_padding"`
	Assignment        string        `yaml:"assignment"`
	ClearOnEmpty      bool          `yaml:"clear_on_empty"`
}

type PlaybackConfig struct {
	Delay        time.Duration   `yaml:"delay"`
	RecentWindow time.Duration   `yaml:"recent_window"`
	VideoBaseURL string          `yaml:"video_base_url"`
	Catalog      *vision.Catalog `yaml:"catalog"`
}

// CollectorConfig tunes the backend event consumer. A zero SnapshotRetention
// keeps thumbnails forever.
type CollectorConfig struct {
	Workers           int           `yaml:"workers"`
	SnapshotRetention time.Duration `yaml:"snapshot_retention"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from a YAML file and applies environment variable
// overrides and defaults. An empty path yields defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := vision.ParseInferenceMode(c.Vision.InferenceMode); err != nil {
		return err
	}
	if _, err := vision.VariantByIndex(c.Vision.ModelVariant); err != nil {
		return err
	}
	if _, err := vision.ParseAssignment(c.Tracking.Assignment); err != nil {
		return err
	}
	switch c.Camera.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("camera rotation must be 0, 90, 180 or 270, got %d", c.Camera.Rotation)
	}
	if c.Vision.GenderThreshold > 1 {
		return fmt.Errorf("gender threshold %v above 1", c.Vision.GenderThreshold)
	}
	return nil
}

// Settings returns the initial runtime-mutable vision settings.
func (c *Config) Settings() vision.Settings {
	mode, _ := vision.ParseInferenceMode(c.Vision.InferenceMode)
	return vision.Settings{
		InferenceMode: mode,
		OnlyFrontFace: c.Vision.OnlyFrontFace == nil || *c.Vision.OnlyFrontFace,
		ModelVariant:  c.Vision.ModelVariant,
	}
}

// EngineConfig assembles the engine tuning from the tracking and playback sections.
func (c *Config) EngineConfig() vision.EngineConfig {
	assignment, _ := vision.ParseAssignment(c.Tracking.Assignment)

	catalog := vision.DefaultCatalog()
	if c.Playback.Catalog != nil {
		catalog = *c.Playback.Catalog
	}
	if c.Playback.VideoBaseURL != "" {
		catalog.BaseURL = c.Playback.VideoBaseURL
	}

	return vision.EngineConfig{
		MinLockWidth:      c.Tracking.MinLockWidth,
		FrontFaceMaxAngle: float32(c.Tracking.FrontFaceMaxAngle),
		CropPadding:       c.Tracking.CropPadding,
		Tracker: vision.TrackerConfig{
			MatchGate:    c.Tracking.MatchGate,
			Expiry:       c.Tracking.Expiry,
			Assignment:   assignment,
			ClearOnEmpty: c.Tracking.ClearOnEmpty,
		},
		Playback: vision.PlaybackConfig{
			Delay:        c.Playback.Delay,
			RecentWindow: c.Playback.RecentWindow,
		},
		Catalog: catalog,
	}
}

// ModelConfig returns the static ONNX model setup.
func (c *Config) ModelConfig() vision.ModelConfig {
	return vision.ModelConfig{
		Dir:             c.Vision.ModelsDir,
		GenderThreshold: float32(c.Vision.GenderThreshold),
		NumThreads:      c.Vision.NumThreads,
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.KioskID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.NATS.KioskID = host
		} else {
			cfg.NATS.KioskID = "kiosk"
		}
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "facekiosk"
	}
	if cfg.Camera.Source == "" {
		cfg.Camera.Source = "/dev/video0"
	}
	if cfg.Camera.FPS == 0 {
		cfg.Camera.FPS = 15
	}
	if cfg.Camera.Width == 0 {
		cfg.Camera.Width = 640
	}
	if cfg.Vision.ModelsDir == "" {
		cfg.Vision.ModelsDir = "models"
	}
	if cfg.Vision.DetectorModel == "" {
		cfg.Vision.DetectorModel = "det_10g.onnx"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Vision.GenderThreshold == 0 {
		cfg.Vision.GenderThreshold = 0.7
	}
	if cfg.Vision.InferenceMode == "" {
		cfg.Vision.InferenceMode = string(vision.ModeCPU)
	}
	if cfg.Vision.OnlyFrontFace == nil {
		on := true
		cfg.Vision.OnlyFrontFace = &on
	}
	if cfg.Tracking.MatchGate == 0 {
		cfg.Tracking.MatchGate = 1.0
	}
	if cfg.Tracking.Expiry == 0 {
		cfg.Tracking.Expiry = 2 * time.Second
	}
	if cfg.Tracking.MinLockWidth == 0 {
		cfg.Tracking.MinLockWidth = 150
	}
	if cfg.Tracking.FrontFaceMaxAngle == 0 {
		cfg.Tracking.FrontFaceMaxAngle = 15
	}
	if cfg.Tracking.CropPadding == 0 {
		cfg.Tracking.CropPadding = 0.1
	}
	if cfg.Tracking.Assignment == "" {
		cfg.Tracking.Assignment = string(vision.AssignGreedy)
	}
	if cfg.Playback.Delay == 0 {
		cfg.Playback.Delay = time.Second
	}
	if cfg.Playback.RecentWindow == 0 {
		cfg.Playback.RecentWindow = time.Second
	}
	if cfg.Collector.Workers == 0 {
		cfg.Collector.Workers = 4
	}
	if cfg.Collector.RetentionInterval == 0 {
		cfg.Collector.RetentionInterval = time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FK_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FK_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("FK_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("FK_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("FK_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("FK_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("FK_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("FK_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("FK_KIOSK_ID"); v != "" {
		cfg.NATS.KioskID = v
	}
	if v := os.Getenv("FK_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("FK_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("FK_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("FK_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("FK_CAMERA_SOURCE"); v != "" {
		cfg.Camera.Source = v
	}
	if v := os.Getenv("FK_CAMERA_ROTATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Camera.Rotation = n
		}
	}
	if v := os.Getenv("FK_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
	if v := os.Getenv("FK_INFERENCE_MODE"); v != "" {
		cfg.Vision.InferenceMode = v
	}
	if v := os.Getenv("FK_MODEL_VARIANT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vision.ModelVariant = n
		}
	}
	if v := os.Getenv("FK_ONLY_FRONT_FACE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Vision.OnlyFrontFace = &b
		}
	}
	if v := os.Getenv("FK_COLLECTOR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Collector.Workers = n
		}
	}
	if v := os.Getenv("FK_SNAPSHOT_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.SnapshotRetention = d
		}
	}
	if v := os.Getenv("FK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
