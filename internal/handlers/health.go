package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/choicestory/api/internal/database"
	"github.com/gin-gonic/gin"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db               *database.Postgres
	redis            *database.Redis
	geminiConfigured bool
	openaiConfigured bool
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.Postgres, redis *database.Redis, geminiConfigured, openaiConfigured bool) *HealthHandler {
	return &HealthHandler{
		db:               db,
		redis:            redis,
		geminiConfigured: geminiConfigured,
		openaiConfigured: openaiConfigured,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status       string            `json:"status"`
	Service      string            `json:"service"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
}

// Health returns basic health status
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "choicestory-api",
		"version": "0.1.0",
	})
}

// DeepHealth returns health status with dependency checks
func (h *HealthHandler) DeepHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	deps := make(map[string]string)
	allHealthy := true

	// Check PostgreSQL
	if h.db != nil {
		if err := h.db.Pool().Ping(ctx); err != nil {
			deps["database"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps["database"] = "healthy"
		}
	} else {
		deps["database"] = "not configured"
	}

	// Check Redis
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			deps["redis"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			deps["redis"] = "healthy"
		}
	} else {
		deps["redis"] = "not configured"
	}

	// Providers are remote paid APIs; we only verify configuration here
	// rather than spending quota on a probe call.
	if h.geminiConfigured {
		deps["gemini"] = "configured"
	} else {
		deps["gemini"] = "not configured"
		allHealthy = false
	}
	if h.openaiConfigured {
		deps["openai"] = "configured"
	} else {
		deps["openai"] = "not configured"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:       status,
		Service:      "choicestory-api",
		Version:      "0.1.0",
		Dependencies: deps,
	})
}
