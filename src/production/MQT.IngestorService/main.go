package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/health"
	broker "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Broker"
	container "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Container"
	mqtingestor "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.IngestorService/ingestor"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewIngestorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting MQTT Ingestor Service")

	cfg := ctr.GetConfig()
	m := ctr.GetMetrics()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MQTT.Embedded {
		b, err := broker.New(broker.Options{
			Address:  cfg.MQTT.EmbeddedAddr,
			Username: cfg.MQTT.BrokerUser,
			Password: cfg.MQTT.BrokerPass,
		}, logger)
		if err != nil {
			logger.FatalWithError(err, "Failed to create embedded broker")
		}
		if err := b.Start(); err != nil {
			logger.FatalWithError(err, "Failed to start embedded broker")
		}
		ctr.AddCleanupFunc(func(context.Context) error { return b.Close() })
	}

	initCtx, initCancel := context.WithTimeout(ctx, cfg.Store.ConnectTimeout+10*time.Second)
	if err := ctr.InitializeStore(initCtx); err != nil {
		logger.FatalWithError(err, "Failed to initialize store")
	}
	store, _ := ctr.GetStore()

	directory := mqtingestor.NewDirectory(store.References(), logger, m)
	if err := directory.Refresh(initCtx); err != nil {
		logger.Warn().Err(err).Msg("Initial directory load failed, classifying by topic only")
	}
	initCancel()
	go directory.Run(ctx, cfg.Ingest.DirectoryRefresh)

	classifier, err := mqtingestor.NewClassifier(cfg.Ingest.TopicFragments, directory)
	if err != nil {
		logger.FatalWithError(err, "Invalid topic fragment table")
	}

	// The publisher is bound once the ingestor exists
	var notifier *mqtingestor.Notifier
	gateway := mqtingestor.NewGateway(store.Readings(), mqtingestor.GatewayOptions{
		WriteMode:          cfg.Ingest.WriteMode,
		WriteTimeout:       cfg.Store.WriteTimeout,
		BreakerMaxFailures: cfg.Ingest.BreakerMaxFailures,
		BreakerTimeout:     cfg.Ingest.BreakerTimeout,
		OnPersisted:        func(mqtmodels.DeviceReading) { notifier.Record() },
	}, logger, m)

	ing := mqtingestor.New(cfg, classifier, gateway, logger, m)
	notifier = mqtingestor.NewNotifier(cfg.Notifier.Topic, cfg.Notifier.Every, cfg.Notifier.MinInterval, ing.Publisher(), logger, m)
	go notifier.Run(ctx)

	if err := ing.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start MQTT ingestor")
	}

	// Start health check server
	checker, err := ctr.GetHealthChecker()
	if err != nil {
		logger.FatalWithError(err, "Failed to create health checker")
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newHealthMux(checker, ing, gateway, m),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		logger.Info("Health server starting on port " + cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalWithError(err, "Failed to start health server")
		}
	}()

	logger.Info("MQTT ingestor running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	ing.Stop(shutdownCtx)
	if err := gateway.Close(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Pending writes were not drained")
	}
	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Health server forced to shutdown")
	}
}

type ingestorStatus interface {
	State() mqtingestor.ConnectionState
}

type breakerStatus interface {
	BreakerState() string
}

// newHealthMux serves /health and /metrics. The service is healthy when the
// MQTT subscription is up, the store answers and the breaker is not open.
func newHealthMux(checker *health.HealthChecker, ing ingestorStatus, gw breakerStatus, m *metrics.Metrics) http.Handler {
	checker.AddCheck("mqtt", func(context.Context) error {
		if s := ing.State(); s != mqtingestor.StateSubscribed {
			return fmt.Errorf("mqtt %s", s)
		}
		return nil
	})
	checker.AddCheck("store_breaker", func(context.Context) error {
		if s := gw.BreakerState(); s == "open" {
			return fmt.Errorf("circuit breaker %s", s)
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := checker.GetHealthStatus(ctx)
		status["mqtt_state"] = ing.State().String()
		status["breaker_state"] = gw.BreakerState()

		w.Header().Set("Content-Type", "application/json")
		if status["status"] == "ok" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.Handle("/metrics", m.Handler())
	return mux
}
