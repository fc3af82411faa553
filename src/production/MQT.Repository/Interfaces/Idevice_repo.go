package interfaces

import (
	"context"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ReferenceRepository exposes the bike and device directory
type ReferenceRepository interface {
	// Create or update by unique name
	UpsertBike(ctx context.Context, bike *mqtmodels.Bike) error
	UpsertDevice(ctx context.Context, device *mqtmodels.Device) error

	ListBikes(ctx context.Context) ([]mqtmodels.Bike, error)
	ListDevices(ctx context.Context) ([]mqtmodels.Device, error)

	CountBikes(ctx context.Context) (int64, error)
	CountDevices(ctx context.Context) (int64, error)
}
