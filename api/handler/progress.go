package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/partharvest/models"
)

// Progress returns a handler for GET /api/v1/progress.
func Progress(src ProgressSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		run := src.Snapshot()
		c.JSON(http.StatusOK, models.ProgressResponse{Success: true, Run: &run})
	}
}
