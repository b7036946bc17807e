package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "facekiosk"

var (
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_received_total",
		Help:      "Frames delivered by the camera source",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_dropped_total",
		Help:      "Frames skipped by the engine",
	}, []string{"reason"})

	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Frames that completed detection and tracking",
	})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected",
	})

	InferencesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inferences_total",
		Help:      "Age/gender inference runs by outcome",
	}, []string{"result"})

	FacesLocked = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_locked_total",
		Help:      "Identities whose age and gender were locked",
	})

	TrackedFaces = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tracked_faces",
		Help:      "Currently tracked identities",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	CameraFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "camera_fps",
		Help:      "Camera frame rate over the sliding window",
	})

	DetectionFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "detection_fps",
		Help:      "Completed detections per second over the sliding window",
	})

	CameraUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "camera_up",
		Help:      "1 while the camera source is delivering frames",
	})

	EventQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_queue_depth",
		Help:      "Events waiting to be published",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Audience events published to NATS",
	}, []string{"type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Audience events dropped before publication",
	}, []string{"reason"})

	EventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_stored_total",
		Help:      "Audience events persisted by the collector",
	}, []string{"type"})

	EventsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_rejected_total",
		Help:      "Malformed audience events discarded by the collector",
	})

	EventsStreamMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "events_stream_messages",
		Help:      "Messages held in the EVENTS stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
