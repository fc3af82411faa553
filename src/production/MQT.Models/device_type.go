package mqtmodels

import (
	"fmt"
	"strings"
)

// DeviceType is the sensor category a reading belongs to. The set is closed.
type DeviceType string

const (
	DeviceTypeSpeed      DeviceType = "speed"
	DeviceTypeCadence    DeviceType = "cadence"
	DeviceTypePower      DeviceType = "power"
	DeviceTypeHeartRate  DeviceType = "heart-rate"
	DeviceTypeResistance DeviceType = "resistance"
	DeviceTypeIncline    DeviceType = "incline"
	DeviceTypeFan        DeviceType = "fan"
)

var deviceTypes = []DeviceType{
	DeviceTypeSpeed,
	DeviceTypeCadence,
	DeviceTypePower,
	DeviceTypeHeartRate,
	DeviceTypeResistance,
	DeviceTypeIncline,
	DeviceTypeFan,
}

// DeviceTypes returns every known device type in declaration order.
func DeviceTypes() []DeviceType {
	out := make([]DeviceType, len(deviceTypes))
	copy(out, deviceTypes)
	return out
}

// Valid reports whether t is a member of the closed set.
func (t DeviceType) Valid() bool {
	for _, known := range deviceTypes {
		if t == known {
			return true
		}
	}
	return false
}

func (t DeviceType) String() string {
	return string(t)
}

// ParseDeviceType lower-cases and trims s before checking it against the closed set.
func ParseDeviceType(s string) (DeviceType, error) {
	t := DeviceType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown device type %q", s)
	}
	return t, nil
}
