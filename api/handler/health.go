package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pairscout/models"
)

// Version is reported by the health endpoint.
var Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
func Health(gate *Gate, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "idle"
		if gate.Running() {
			status = "running"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:     status,
			Uptime:     time.Since(startTime).Round(time.Second).String(),
			RunsServed: gate.Served(),
			Version:    Version,
		})
	}
}
