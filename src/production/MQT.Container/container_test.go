package container

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
)

func sqliteConfig(t *testing.T) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "sensors.db")},
		Query: config.QueryConfig{DefaultLimit: 10, MaxLimit: 100},
	}
}

func TestApiContainerOpensStoreOnce(t *testing.T) {
	ctr := NewApiContainerWith(sqliteConfig(t), logger.Nop())
	ctx := context.Background()

	first, err := ctr.GetStore()
	require.NoError(t, err)
	second, err := ctr.GetStore()
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, ctr.InitializeStore(ctx))

	h, err := ctr.GetHealthChecker()
	require.NoError(t, err)
	assert.True(t, h.Healthy(ctx))

	require.NoError(t, ctr.Shutdown(ctx))
	assert.Error(t, first.Ping(ctx), "store closed on shutdown")
}

func TestShutdownRunsCleanupInReverse(t *testing.T) {
	ctr := NewApiContainerWith(sqliteConfig(t), logger.Nop())

	var order []int
	ctr.AddCleanupFunc(func(context.Context) error { order = append(order, 1); return nil })
	ctr.AddCleanupFunc(func(context.Context) error { order = append(order, 2); return errors.New("ignored") })

	require.NoError(t, ctr.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)

	// cleanup runs once
	require.NoError(t, ctr.Shutdown(context.Background()))
	assert.Equal(t, []int{2, 1}, order)
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.Store.Driver = "cassandra"
	ctr := NewApiContainerWith(cfg, logger.Nop())

	_, err := ctr.GetStore()
	assert.Error(t, err)
}
