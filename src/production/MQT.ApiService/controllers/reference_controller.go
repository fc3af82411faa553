package controllers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// ReferenceController manages bikes and devices. Both are keyed by name and
// written with upserts.
type ReferenceController struct {
	repo   interfaces.ReferenceRepository
	logger *logger.Logger
}

// NewReferenceController creates a new bike and device controller
func NewReferenceController(repo interfaces.ReferenceRepository, logger *logger.Logger) *ReferenceController {
	return &ReferenceController{repo: repo, logger: logger}
}

// RegisterRoutes registers the bike and device routes with Gin
func (c *ReferenceController) RegisterRoutes(router gin.IRouter) {
	router.GET("/bikes", c.ListBikes)
	router.PUT("/bikes", c.UpsertBike)
	router.GET("/devices", c.ListDevices)
	router.PUT("/devices", c.UpsertDevice)
}

type bikeRequest struct {
	Bike *mqtmodels.Bike `json:"bike"`
}

type deviceRequest struct {
	Device *mqtmodels.Device `json:"device"`
}

func (c *ReferenceController) ListBikes(ctx *gin.Context) {
	bikes, err := c.repo.ListBikes(ctx.Request.Context())
	if err != nil {
		c.internal(ctx, err, "failed to list bikes")
		return
	}
	if bikes == nil {
		bikes = []mqtmodels.Bike{}
	}
	ctx.JSON(http.StatusOK, gin.H{"bikes": bikes})
}

func (c *ReferenceController) UpsertBike(ctx *gin.Context) {
	var req bikeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Bike == nil || strings.TrimSpace(req.Bike.Name) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "bike.name is required"})
		return
	}

	if err := c.repo.UpsertBike(ctx.Request.Context(), req.Bike); err != nil {
		c.internal(ctx, err, "failed to save bike")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"bike": req.Bike})
}

func (c *ReferenceController) ListDevices(ctx *gin.Context) {
	devices, err := c.repo.ListDevices(ctx.Request.Context())
	if err != nil {
		c.internal(ctx, err, "failed to list devices")
		return
	}
	if devices == nil {
		devices = []mqtmodels.Device{}
	}
	ctx.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (c *ReferenceController) UpsertDevice(ctx *gin.Context) {
	var req deviceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Device == nil || strings.TrimSpace(req.Device.Name) == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "device.name is required"})
		return
	}
	t, err := mqtmodels.ParseDeviceType(string(req.Device.DeviceType))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Device.DeviceType = t

	if err := c.repo.UpsertDevice(ctx.Request.Context(), req.Device); err != nil {
		c.internal(ctx, err, "failed to save device")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"device": req.Device})
}

func (c *ReferenceController) internal(ctx *gin.Context, err error, msg string) {
	middleware.GetLogger(ctx, c.logger).ErrorWithError(err, msg)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
