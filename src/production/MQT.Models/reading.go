package mqtmodels

import "time"

// DeviceReading is one persisted, timestamped numeric observation from a bike sensor.
// ID, CreatedAt and UpdatedAt are assigned by the store.
type DeviceReading struct {
	ID         string                 `json:"id,omitempty"`
	BikeID     string                 `json:"bikeId,omitempty"`
	DeviceID   string                 `json:"deviceId,omitempty"`
	WorkoutID  string                 `json:"workoutId,omitempty"`
	UserID     string                 `json:"userId,omitempty"`
	DeviceName string                 `json:"deviceName,omitempty"`
	BikeName   string                 `json:"bikeName,omitempty"`
	DeviceType DeviceType             `json:"deviceType"`
	UnitName   string                 `json:"unitName,omitempty"`
	Value      float64                `json:"value"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	ReportedAt time.Time              `json:"reportedAt"`
	CreatedAt  time.Time              `json:"createdAt"`
	UpdatedAt  time.Time              `json:"updatedAt"`
}

// IsTesting reports whether the reading was flagged as test data via metadata.testing.
func (r DeviceReading) IsTesting() bool {
	if r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata["testing"].(bool)
	return ok && v
}
