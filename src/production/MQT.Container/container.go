package container

import (
	"context"
	"fmt"
	"sync"

	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/health"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	implementation "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// Container manages shared dependencies and their lifecycle
type Container struct {
	storeConfig config.StoreConfig
	logger      *logger.Logger
	metrics     *metrics.Metrics

	store         interfaces.Store
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.Mutex

	cleanupFuncs []func(ctx context.Context) error
}

// IngestorContainer manages dependencies for the MQTT Ingestor service
type IngestorContainer struct {
	*Container
	config *config.IngestorConfig
}

// ApiContainer manages dependencies for the API service
type ApiContainer struct {
	*Container
	config *config.Config
}

func newContainer(store config.StoreConfig, log *logger.Logger) *Container {
	return &Container{
		storeConfig: store,
		logger:      log,
		metrics:     metrics.New(),
	}
}

// NewIngestorContainer creates a new container for the MQTT Ingestor service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}
	return NewIngestorContainerWith(cfg, logger.NewLogger(&cfg.Logging).WithService("ingestor")), nil
}

// NewIngestorContainerWith builds an ingestor container around an existing configuration
func NewIngestorContainerWith(cfg *config.IngestorConfig, log *logger.Logger) *IngestorContainer {
	return &IngestorContainer{Container: newContainer(cfg.Store, log), config: cfg}
}

// NewApiContainer creates a new container for the API service
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}
	return NewApiContainerWith(cfg, logger.NewLogger(&cfg.Logging).WithService("api")), nil
}

// NewApiContainerWith builds an API container around an existing configuration
func NewApiContainerWith(cfg *config.Config, log *logger.Logger) *ApiContainer {
	return &ApiContainer{Container: newContainer(cfg.Store, log), config: cfg}
}

// GetConfig returns the API configuration
func (c *ApiContainer) GetConfig() *config.Config {
	return c.config
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *Container) GetLogger() *logger.Logger {
	return c.logger
}

// GetMetrics returns the metrics registry
func (c *Container) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// GetStore opens the configured store on first use
func (c *Container) GetStore() (interfaces.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.store == nil {
		store, err := implementation.OpenStore(c.storeConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s store: %w", c.storeConfig.Driver, err)
		}
		c.store = store
		c.cleanupFuncs = append(c.cleanupFuncs, store.Close)
	}

	return c.store, nil
}

// SetStore installs an already opened store, for tests and embedding
func (c *Container) SetStore(store interfaces.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = store
}

// GetHealthChecker returns the health checker
func (c *Container) GetHealthChecker() (*health.HealthChecker, error) {
	// Get the store without holding the lock to avoid deadlock
	store, err := c.GetStore()
	if err != nil {
		return nil, fmt.Errorf("failed to get store for health checker: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker == nil {
		c.healthChecker = health.NewHealthChecker(store)
	}
	return c.healthChecker, nil
}

// InitializeStore creates missing collections, tables and indexes
func (c *Container) InitializeStore(ctx context.Context) error {
	store, err := c.GetStore()
	if err != nil {
		return err
	}

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize %s store: %w", store.Driver(), err)
	}

	c.logger.Logger.Info().Str("driver", store.Driver()).Msg("Store initialized successfully")
	return nil
}

// AddCleanupFunc adds a cleanup function, run in reverse order on Shutdown
func (c *Container) AddCleanupFunc(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *Container) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}
