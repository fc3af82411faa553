package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/health"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
)

// HealthController handles health and metrics requests
type HealthController struct {
	checker *health.HealthChecker
	metrics *metrics.Metrics
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, m *metrics.Metrics) *HealthController {
	return &HealthController{checker: checker, metrics: m}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	router.GET("/metrics", gin.WrapH(c.metrics.Handler()))
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// HealthReady reports 503 until every dependency check passes
func (c *HealthController) HealthReady(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	status := c.checker.GetHealthStatus(reqCtx)
	if status["status"] != "ok" {
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
