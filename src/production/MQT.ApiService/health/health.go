package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// Version is reported by health endpoints
const Version = "1.0.0"

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// HealthChecker runs named dependency checks
type HealthChecker struct {
	mu     sync.RWMutex
	names  []string
	checks map[string]Check
}

// NewHealthChecker creates a checker that pings store
func NewHealthChecker(store interfaces.Store) *HealthChecker {
	h := &HealthChecker{checks: make(map[string]Check)}
	if store != nil {
		h.AddCheck(store.Driver(), store.Ping)
	}
	return h
}

// AddCheck registers or replaces a named check
func (h *HealthChecker) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// Healthy reports whether every check passes
func (h *HealthChecker) Healthy(ctx context.Context) bool {
	status := h.GetHealthStatus(ctx)
	return status["status"] == "ok"
}

// GetHealthStatus returns the current health status
func (h *HealthChecker) GetHealthStatus(ctx context.Context) map[string]interface{} {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	results := make(map[string]interface{}, len(names))
	overall := "ok"
	for _, name := range names {
		if err := runCheck(ctx, checks[name]); err != nil {
			overall = "degraded"
			results[name] = map[string]interface{}{"status": "error", "error": err.Error()}
			continue
		}
		results[name] = map[string]interface{}{"status": "ok"}
	}

	return map[string]interface{}{
		"status":    overall,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"checks":    results,
	}
}

func runCheck(ctx context.Context, check Check) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("check panicked: %v", r)
		}
	}()
	return check(ctx)
}
