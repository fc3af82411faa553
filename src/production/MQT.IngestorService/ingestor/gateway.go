package mqtingestor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// ErrPersist wraps every store write failure surfaced by the gateway
var ErrPersist = errors.New("persist failure")

// maxInflightAsync bounds concurrent fire-and-forget writes
const maxInflightAsync = 256

// ReadingAppender is the write side used by the dispatcher
type ReadingAppender interface {
	Append(ctx context.Context, r *mqtmodels.DeviceReading) (string, error)
}

// GatewayOptions tunes a Gateway
type GatewayOptions struct {
	WriteMode          string
	WriteTimeout       time.Duration
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
	// OnPersisted runs after each successful write; it must not block
	OnPersisted func(mqtmodels.DeviceReading)
}

// Gateway appends readings to the store behind a circuit breaker.
//
// In async mode Append returns as soon as the write is started and the
// outcome goes to the log and metrics only. A crash between start and
// completion loses that reading.
type Gateway struct {
	writer  interfaces.ReadingWriter
	breaker *gobreaker.CircuitBreaker
	opts    GatewayOptions
	logger  *logger.Logger
	metrics *metrics.Metrics

	// mu orders the closed check and inflight.Add against Close
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	slots    chan struct{}
}

func NewGateway(writer interfaces.ReadingWriter, opts GatewayOptions, log *logger.Logger, m *metrics.Metrics) *Gateway {
	if opts.WriteMode == "" {
		opts.WriteMode = config.WriteModeSync
	}
	if opts.BreakerMaxFailures == 0 {
		opts.BreakerMaxFailures = 5
	}

	g := &Gateway{
		writer:  writer,
		opts:    opts,
		logger:  log.WithComponent("gateway"),
		metrics: m,
		slots:   make(chan struct{}, maxInflightAsync),
	}

	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "reading-store",
		MaxRequests: 1,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.BreakerState.Set(float64(to))
			g.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Store circuit breaker state changed")
		},
	})
	return g
}

// Append persists r. In sync mode it returns the store ID. In async mode it
// returns an empty ID and a nil error once the write has been started.
func (g *Gateway) Append(ctx context.Context, r *mqtmodels.DeviceReading) (string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", fmt.Errorf("%w: gateway closed", ErrPersist)
	}
	g.inflight.Add(1)
	g.mu.Unlock()

	if g.opts.WriteMode != config.WriteModeAsync {
		defer g.inflight.Done()
		return g.write(ctx, r)
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		g.inflight.Done()
		return "", fmt.Errorf("%w: %v", ErrPersist, ctx.Err())
	}
	go func(ctx context.Context) {
		defer g.inflight.Done()
		defer func() { <-g.slots }()
		// errors are already logged and counted by write
		_, _ = g.write(ctx, r)
	}(context.WithoutCancel(ctx))
	return "", nil
}

func (g *Gateway) write(ctx context.Context, r *mqtmodels.DeviceReading) (string, error) {
	if g.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.WriteTimeout)
		defer cancel()
	}

	start := time.Now()
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.writer.InsertReading(ctx, r)
	})
	g.metrics.WriteLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		g.metrics.PersistErrors.Inc()
		g.logger.Error().Err(err).
			Str("device_type", string(r.DeviceType)).
			Str("bike", r.BikeName).
			Float64("value", r.Value).
			Time("reported_at", r.ReportedAt).
			Str("breaker_state", g.breaker.State().String()).
			Msg("Failed to persist reading")
		return "", fmt.Errorf("%w: %v", ErrPersist, err)
	}

	id := result.(string)
	g.metrics.ReadingsPersisted.WithLabelValues(string(r.DeviceType)).Inc()
	g.logger.Debug().Str("reading_id", id).Str("device_type", string(r.DeviceType)).Str("bike", r.BikeName).Msg("Reading persisted")
	if g.opts.OnPersisted != nil {
		g.opts.OnPersisted(*r)
	}
	return id, nil
}

// BreakerState reports the circuit breaker state for health output
func (g *Gateway) BreakerState() string {
	return g.breaker.State().String()
}

// Close rejects new writes and waits for in-flight ones until ctx is done
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("gateway drain interrupted: %w", ctx.Err())
	}
}
