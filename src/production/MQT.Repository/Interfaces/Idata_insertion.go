package interfaces

import (
	"context"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ReadingWriter appends readings. Implementations assign ID, CreatedAt and
// UpdatedAt on the passed reading and return the new ID.
type ReadingWriter interface {
	InsertReading(ctx context.Context, r *mqtmodels.DeviceReading) (string, error)
}
