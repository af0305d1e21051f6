package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"station-alerts/internal/db"
	"station-alerts/internal/logging"
	"station-alerts/internal/models"
)

// ReadingStore accepts telemetry pushed over HTTP.
type ReadingStore interface {
	AddStation(db.Station)
	AddVariable(db.Variable)
	AddReading(db.Reading) error
}

// IngestHandler feeds the in-memory telemetry store.
type IngestHandler struct {
	store  ReadingStore
	logger *logging.Logger
}

func NewIngestHandler(store ReadingStore, logger *logging.Logger) *IngestHandler {
	if logger == nil {
		logger = logging.Nop()
	}
	return &IngestHandler{store: store, logger: logger.Component("ingest")}
}

type stationRequest struct {
	ID      int64  `json:"id" binding:"required"`
	User    string `json:"user" binding:"required"`
	Country string `json:"country"`
	State   string `json:"state"`
	City    string `json:"city"`
}

type variableRequest struct {
	ID   int64        `json:"id" binding:"required"`
	Name string       `json:"name" binding:"required"`
	Min  models.Bound `json:"min"`
	Max  models.Bound `json:"max"`
}

type readingRequest struct {
	StationID  int64     `json:"station_id" binding:"required"`
	VariableID int64     `json:"variable_id" binding:"required"`
	Value      *float64  `json:"value" binding:"required"`
	BaseTime   time.Time `json:"base_time"`
}

func (h *IngestHandler) CreateStation(c *gin.Context) {
	var req stationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for station: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	h.store.AddStation(db.Station{
		ID:      req.ID,
		User:    req.User,
		Country: req.Country,
		State:   req.State,
		City:    req.City,
	})
	h.logger.Infof("Registered station: %d", req.ID)
	c.JSON(http.StatusCreated, req)
}

// CreateVariable registers a variable. Omitted or null bounds are absent.
func (h *IngestHandler) CreateVariable(c *gin.Context) {
	var req variableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for variable: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	h.store.AddVariable(db.Variable{ID: req.ID, Name: req.Name, Min: req.Min, Max: req.Max})
	h.logger.Infof("Registered variable: %d (%s, min %s, max %s)", req.ID, req.Name, req.Min, req.Max)
	c.JSON(http.StatusCreated, req)
}

// CreateReading stores one observation, stamped now when base_time is
// omitted.
func (h *IngestHandler) CreateReading(c *gin.Context) {
	var req readingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorf("Invalid request body for reading: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.BaseTime.IsZero() {
		req.BaseTime = time.Now().UTC()
	}

	err := h.store.AddReading(db.Reading{
		StationID:  req.StationID,
		VariableID: req.VariableID,
		Value:      *req.Value,
		BaseTime:   req.BaseTime,
	})
	if err != nil {
		h.logger.Warnf("Rejected reading: %v", err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, req)
}
