package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"station-alerts/internal/logging"
	"station-alerts/internal/models"
	"station-alerts/internal/publisher"
	"station-alerts/internal/scheduler"
)

// ConnectionState reports on the broker connection.
type ConnectionState interface {
	State() publisher.State
	Reconnects() int64
}

// CycleHistory returns the latest summary of each cadence.
type CycleHistory interface {
	Last() []models.CycleSummary
}

// JobStats returns scheduler counters.
type JobStats interface {
	Stats() []scheduler.Stats
}

type Handler struct {
	conn   ConnectionState
	cycles CycleHistory
	jobs   JobStats
	policy string
	logger *logging.Logger
}

func NewHandler(conn ConnectionState, cycles CycleHistory, jobs JobStats, policy string, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Handler{conn: conn, cycles: cycles, jobs: jobs, policy: policy, logger: logger}
}

// Health is 200 while the broker connection is up and 503 otherwise.
func (h *Handler) Health(c *gin.Context) {
	state := h.conn.State()
	if state != publisher.Connected {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "mqtt": state.String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "mqtt": state.String()})
}

type statusResponse struct {
	MQTT struct {
		State      string `json:"state"`
		Reconnects int64  `json:"reconnects"`
	} `json:"mqtt"`
	AbsentBoundPolicy string                `json:"absent_bound_policy"`
	Cycles            []models.CycleSummary `json:"cycles"`
	Jobs              []scheduler.Stats     `json:"jobs"`
}

func (h *Handler) Status(c *gin.Context) {
	var resp statusResponse
	resp.MQTT.State = h.conn.State().String()
	resp.MQTT.Reconnects = h.conn.Reconnects()
	resp.AbsentBoundPolicy = h.policy
	resp.Cycles = h.cycles.Last()
	resp.Jobs = h.jobs.Stats()
	c.JSON(http.StatusOK, resp)
}
