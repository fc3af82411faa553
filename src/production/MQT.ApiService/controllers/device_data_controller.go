package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/implementation/devicedata"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/middleware"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// DeviceDataController serves stored readings
type DeviceDataController struct {
	service *devicedata.Service
	logger  *logger.Logger
}

// NewDeviceDataController creates a new device data controller
func NewDeviceDataController(service *devicedata.Service, logger *logger.Logger) *DeviceDataController {
	return &DeviceDataController{service: service, logger: logger}
}

// RegisterRoutes registers the device data routes with Gin
func (c *DeviceDataController) RegisterRoutes(router gin.IRouter) {
	deviceData := router.Group("/device-data")
	{
		deviceData.GET("", c.GetOne)
		deviceData.GET("/many", c.GetMany)
	}
}

// GetOne returns the latest matching reading, or null
func (c *DeviceDataController) GetOne(ctx *gin.Context) {
	filter, err := parseReadingFilter(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reading, err := c.service.GetOne(ctx.Request.Context(), filter)
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		ctx.JSON(http.StatusOK, gin.H{"deviceData": nil})
	case err != nil:
		c.fail(ctx, err)
	default:
		ctx.JSON(http.StatusOK, gin.H{"deviceData": reading})
	}
}

// GetMany returns matching readings, newest first
func (c *DeviceDataController) GetMany(ctx *gin.Context) {
	query, err := parseReadingsQuery(ctx)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	readings, err := c.service.GetMany(ctx.Request.Context(), query)
	if err != nil {
		c.fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"total": len(readings), "deviceData": readings})
}

func (c *DeviceDataController) fail(ctx *gin.Context, err error) {
	if errors.Is(err, devicedata.ErrInvalidFilter) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	middleware.GetLogger(ctx, c.logger).ErrorWithError(err, "Device data query failed")
	_ = ctx.Error(err)
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load device data"})
}

func parseReadingFilter(ctx *gin.Context) (mqtmodels.ReadingFilter, error) {
	var f mqtmodels.ReadingFilter
	var err error

	if f.DeviceType, err = devicedata.ParseDeviceType("deviceType", ctx.Query("deviceType")); err != nil {
		return f, err
	}
	f.BikeName = ctx.Query("bikeName")
	if f.Before, err = devicedata.ParseTime("before", ctx.Query("before")); err != nil {
		return f, err
	}
	if f.After, err = devicedata.ParseTime("after", ctx.Query("after")); err != nil {
		return f, err
	}
	return f, nil
}

func parseReadingsQuery(ctx *gin.Context) (mqtmodels.ReadingsQuery, error) {
	var q mqtmodels.ReadingsQuery
	var err error

	q.Keyword = ctx.Query("keyword")
	q.BikeName = ctx.Query("bikeName")
	q.BikeID = ctx.Query("bikeId")
	if q.Testing, err = devicedata.ParseBool("testing", ctx.Query("testing")); err != nil {
		return q, err
	}
	if q.DeviceTypes, err = devicedata.ParseDeviceTypes("deviceTypes", queryArray(ctx, "deviceTypes")); err != nil {
		return q, err
	}
	if q.ValueRange, err = devicedata.ParseValueRange("valueRange", queryArray(ctx, "valueRange")); err != nil {
		return q, err
	}
	if q.Before, err = devicedata.ParseTime("before", ctx.Query("before")); err != nil {
		return q, err
	}
	if q.After, err = devicedata.ParseTime("after", ctx.Query("after")); err != nil {
		return q, err
	}
	if q.Limit, err = devicedata.ParseLimit("limit", ctx.Query("limit")); err != nil {
		return q, err
	}
	return q, nil
}

// queryArray accepts both name[]=a&name[]=b and name=a&name=b
func queryArray(ctx *gin.Context, name string) []string {
	return append(ctx.QueryArray(name+"[]"), ctx.QueryArray(name)...)
}
