package mqtingestor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

type directorySnapshot struct {
	// longest prefix first
	bikes             []mqtmodels.Bike
	bikesByID         map[string]mqtmodels.Bike
	devicesByFragment map[string][]mqtmodels.Device
}

// Directory is a periodically refreshed, read-only view of the bikes and
// devices in the store. Readers never block; a refresh swaps the snapshot.
type Directory struct {
	repo    interfaces.ReferenceRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
	snap    atomic.Pointer[directorySnapshot]
}

func NewDirectory(repo interfaces.ReferenceRepository, log *logger.Logger, m *metrics.Metrics) *Directory {
	d := &Directory{repo: repo, logger: log.WithComponent("directory"), metrics: m}
	d.snap.Store(buildSnapshot(nil, nil))
	return d
}

// Refresh reloads the snapshot. On error the previous snapshot stays.
func (d *Directory) Refresh(ctx context.Context) error {
	bikes, err := d.repo.ListBikes(ctx)
	if err != nil {
		d.metrics.DirectoryRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load bikes: %w", err)
	}
	devices, err := d.repo.ListDevices(ctx)
	if err != nil {
		d.metrics.DirectoryRefreshes.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load devices: %w", err)
	}

	d.snap.Store(buildSnapshot(bikes, devices))
	d.metrics.DirectoryRefreshes.WithLabelValues("ok").Inc()
	d.logger.Debug().Int("bikes", len(bikes)).Int("devices", len(devices)).Msg("Directory refreshed")
	return nil
}

// Run refreshes every interval until ctx is done
func (d *Directory) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refreshCtx, cancel := context.WithTimeout(ctx, interval)
			if err := d.Refresh(refreshCtx); err != nil {
				d.logger.Warn().Err(err).Msg("Directory refresh failed, keeping previous snapshot")
			}
			cancel()
		}
	}
}

// Resolve finds the bike whose topic prefix matches and the device
// registered for fragment. Either may be nil.
func (d *Directory) Resolve(topic, fragment string) (*mqtmodels.Bike, *mqtmodels.Device) {
	snap := d.snap.Load()

	var bike *mqtmodels.Bike
	for i := range snap.bikes {
		if topicHasPrefix(topic, snap.bikes[i].MQTTTopicPrefix) {
			b := snap.bikes[i]
			bike = &b
			break
		}
	}

	candidates := snap.devicesByFragment[fragment]
	var device *mqtmodels.Device
	switch {
	case len(candidates) == 0:
	case bike != nil:
		for i := range candidates {
			if candidates[i].BikeID == bike.ID {
				dv := candidates[i]
				device = &dv
				break
			}
		}
	case len(candidates) == 1:
		dv := candidates[0]
		device = &dv
	}

	if bike == nil && device != nil && device.BikeID != "" {
		if b, ok := snap.bikesByID[device.BikeID]; ok {
			bike = &b
		}
	}
	return bike, device
}

func buildSnapshot(bikes []mqtmodels.Bike, devices []mqtmodels.Device) *directorySnapshot {
	snap := &directorySnapshot{
		bikesByID:         make(map[string]mqtmodels.Bike, len(bikes)),
		devicesByFragment: make(map[string][]mqtmodels.Device),
	}
	for _, b := range bikes {
		snap.bikesByID[b.ID] = b
		if b.MQTTTopicPrefix != "" {
			snap.bikes = append(snap.bikes, b)
		}
	}
	sort.SliceStable(snap.bikes, func(i, j int) bool {
		return len(snap.bikes[i].MQTTTopicPrefix) > len(snap.bikes[j].MQTTTopicPrefix)
	})
	for _, dv := range devices {
		key := strings.ToLower(strings.TrimSpace(dv.MQTTTopicDeviceName))
		if key == "" {
			continue
		}
		snap.devicesByFragment[key] = append(snap.devicesByFragment[key], dv)
	}
	return snap
}

// topicHasPrefix matches whole segments, so "bike/1" does not claim "bike/10/speed"
func topicHasPrefix(topic, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	return topic == prefix || strings.HasPrefix(topic, prefix+"/")
}
