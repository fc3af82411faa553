package interfaces

import (
	"context"
	"errors"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ErrNotFound is returned when a lookup matches nothing
var ErrNotFound = errors.New("not found")

// ReadingQueryRepository reads readings back. Results are ordered by
// ReportedAt descending and time bounds are inclusive.
type ReadingQueryRepository interface {
	// FindLatest returns the most recent match or ErrNotFound
	FindLatest(ctx context.Context, filter mqtmodels.ReadingFilter) (*mqtmodels.DeviceReading, error)
	// FindMany trusts q.Limit; callers clamp it
	FindMany(ctx context.Context, q mqtmodels.ReadingsQuery) ([]mqtmodels.DeviceReading, error)

	CountReadings(ctx context.Context) (int64, error)
	CountByDeviceType(ctx context.Context) (map[mqtmodels.DeviceType]int64, error)
}

type ReadingRepository interface {
	ReadingWriter
	ReadingQueryRepository
}
