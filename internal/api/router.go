package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facekiosk/internal/api/handlers"
	"github.com/your-org/facekiosk/internal/api/ws"
	"github.com/your-org/facekiosk/internal/auth"
)

func newEngine(checks []handlers.Check) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "X-API-Key"},
	}))

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

type KioskRouterConfig struct {
	APIKey string
	Engine handlers.Engine
	Camera handlers.CameraStatus
	Hub    *ws.Hub
	Checks []handlers.Check
}

// NewKioskRouter serves the live face-tracking API of one device.
func NewKioskRouter(cfg KioskRouterConfig) *gin.Engine {
	r := newEngine(cfg.Checks)

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	kioskH := handlers.NewKioskHandler(cfg.Engine, cfg.Camera)
	v1.GET("/faces", kioskH.Faces)
	v1.POST("/faces/clear", kioskH.Clear)
	v1.GET("/faces/:id/thumbnail", kioskH.Thumbnail)
	v1.GET("/playback", kioskH.Playback)
	v1.GET("/stats", kioskH.Stats)
	v1.GET("/settings", kioskH.GetSettings)
	v1.PUT("/settings", kioskH.UpdateSettings)

	return r
}

type CollectorRouterConfig struct {
	APIKey    string
	Events    handlers.EventStore
	Snapshots handlers.ObjectReader
	Control   handlers.ControlPublisher
	Checks    []handlers.Check
}

// NewCollectorRouter serves the audience history and kiosk control API.
func NewCollectorRouter(cfg CollectorRouterConfig) *gin.Engine {
	r := newEngine(cfg.Checks)

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	eventH := handlers.NewEventHandler(cfg.Events, cfg.Snapshots)
	v1.GET("/events", eventH.List)
	v1.GET("/events/stats", eventH.Stats)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/snapshot", eventH.Snapshot)

	controlH := handlers.NewControlHandler(cfg.Control)
	v1.PUT("/kiosks/:id/settings", controlH.UpdateSettings)
	v1.POST("/kiosks/:id/clear", controlH.Clear)

	return r
}
