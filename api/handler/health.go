package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/partharvest/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// ProgressSource is the run view served by the status API.
type ProgressSource interface {
	Snapshot() models.RunSummary
	Done() bool
}

// Health returns a handler for GET /api/v1/health.
//
// Status is "running" while the harvest loop works and "finished" once it
// has returned; a halted run reports "halted".
func Health(src ProgressSource, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "running"
		if src.Done() {
			status = "finished"
			if src.Snapshot().Halted {
				status = "halted"
			}
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
			Version: Version,
		})
	}
}
