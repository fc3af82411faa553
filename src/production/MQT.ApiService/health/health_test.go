package health

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	implementation "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Implementation"
)

func TestHealthCheckerWithStore(t *testing.T) {
	db, err := implementation.ConnectSQLite(":memory:")
	require.NoError(t, err)
	store := implementation.NewSQLStore(db, config.DriverSQLite)
	defer store.Close(context.Background())

	h := NewHealthChecker(store)
	status := h.GetHealthStatus(context.Background())
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, Version, status["version"])

	checks := status["checks"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"status": "ok"}, checks["sqlite"])
	assert.True(t, h.Healthy(context.Background()))
}

func TestHealthCheckerDegraded(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("mqtt", func(context.Context) error { return errors.New("disconnected") })
	h.AddCheck("breaker", func(context.Context) error { panic("boom") })

	status := h.GetHealthStatus(context.Background())
	assert.Equal(t, "degraded", status["status"])

	checks := status["checks"].(map[string]interface{})
	assert.Equal(t, "disconnected", checks["mqtt"].(map[string]interface{})["error"])
	assert.Contains(t, checks["breaker"].(map[string]interface{})["error"], "boom")
	assert.False(t, h.Healthy(context.Background()))
}

func TestAddCheckReplaces(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("mqtt", func(context.Context) error { return errors.New("down") })
	h.AddCheck("mqtt", func(context.Context) error { return nil })

	assert.True(t, h.Healthy(context.Background()))
	assert.Len(t, h.names, 1)
}
