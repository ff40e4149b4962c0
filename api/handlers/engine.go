package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/health"
)

type EngineHealthResponse struct {
	Healthy bool `json:"healthy"`
	health.Report
}

func SetupEngine(router gin.IRouter, logger logger.Logger, monitor *health.Monitor) {
	router.GET("/engine/health", handleEngineHealth(monitor, logger))
}

// handleEngineHealth reports the heartbeat. force=true probes the engine
// even when this request already has a result.
func handleEngineHealth(monitor *health.Monitor, logger logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		force, _ := strconv.ParseBool(c.Query("force"))
		healthy := monitor.Check(c.Request.Context(), force)
		report := monitor.Report()
		if !healthy {
			logger.Warn("engine health check failed", "status", report.Status, "cluster_status", report.ClusterStatus)
		}

		statusCode := http.StatusOK
		if report.Down {
			statusCode = http.StatusServiceUnavailable
		}
		writeResponse(c, EngineHealthResponse{Healthy: healthy, Report: report}, statusCode, nil)
	}
}
