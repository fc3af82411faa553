package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/implementation/analytics"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
)

// AnalyticsController serves record counts
type AnalyticsController struct {
	service *analytics.Service
	logger  *logger.Logger
}

func NewAnalyticsController(service *analytics.Service, logger *logger.Logger) *AnalyticsController {
	return &AnalyticsController{service: service, logger: logger}
}

// RegisterRoutes registers the analytics routes with Gin
func (c *AnalyticsController) RegisterRoutes(router gin.IRouter) {
	group := router.Group("/data-analytics")
	{
		group.GET("/total-count", c.TotalCount)
		group.GET("/device-data/total-count", c.DeviceDataTotalCount)
	}
}

func (c *AnalyticsController) TotalCount(ctx *gin.Context) {
	counts, err := c.service.TotalCounts(ctx.Request.Context())
	if err != nil {
		middleware.GetLogger(ctx, c.logger).ErrorWithError(err, "Failed to count records")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count records"})
		return
	}
	ctx.JSON(http.StatusOK, counts)
}

func (c *AnalyticsController) DeviceDataTotalCount(ctx *gin.Context) {
	counts, err := c.service.DeviceDataCounts(ctx.Request.Context())
	if err != nil {
		middleware.GetLogger(ctx, c.logger).ErrorWithError(err, "Failed to count device data")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count device data"})
		return
	}
	ctx.JSON(http.StatusOK, counts)
}
