package api

import (
	"github.com/gin-gonic/gin"

	"station-alerts/internal/logging"
)

// NewRouter wires the status and feed routes. ingest may be nil when the
// telemetry store is not fed over HTTP.
func NewRouter(h *Handler, hub *Hub, ingest *IngestHandler, logger *logging.Logger, basePath string) *gin.Engine {
	if logger == nil {
		logger = logging.Nop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLoggingMiddleware(logger))

	r.GET("/health", h.Health)

	api := r.Group(basePath)
	{
		api.GET("/status", h.Status)
		api.GET("/ws/alerts", hub.Serve)
		if ingest != nil {
			api.POST("/stations", ingest.CreateStation)
			api.POST("/variables", ingest.CreateVariable)
			api.POST("/readings", ingest.CreateReading)
		}
	}
	return r
}
