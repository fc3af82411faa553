package controllers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/health"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/implementation/analytics"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/implementation/devicedata"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/middleware"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// NewRouter builds the API engine with every route registered
func NewRouter(cfg *config.Config, store interfaces.Store, checker *health.HealthChecker, m *metrics.Metrics, log *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestLogger(log))
	router.Use(gin.Recovery())

	// Configure CORS from config
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}))

	deviceData := devicedata.NewService(store.Readings(), cfg.Query, cfg.Store.QueryTimeout, m)
	counts := analytics.NewService(store.Readings(), store.References())

	NewDeviceDataController(deviceData, log).RegisterRoutes(router)
	NewAnalyticsController(counts, log).RegisterRoutes(router)
	NewReferenceController(store.References(), log).RegisterRoutes(router)
	NewHealthController(checker, m).RegisterRoutes(router)

	return router
}
