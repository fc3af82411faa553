package mqtmodels

import "time"

// ReadingFilter narrows a single-reading lookup. Zero values mean "no constraint".
type ReadingFilter struct {
	DeviceType DeviceType
	BikeName   string
	Before     *time.Time
	After      *time.Time
}

// ValueRange is an inclusive [Min, Max] bound on reading values.
type ValueRange struct {
	Min float64
	Max float64
}

// ReadingsQuery is the filter surface for multi-reading lookups.
type ReadingsQuery struct {
	Keyword     string
	Testing     bool
	DeviceTypes []DeviceType
	ValueRange  *ValueRange
	Before      *time.Time
	After       *time.Time
	BikeName    string
	BikeID      string
	Limit       int
}

// TotalCounts is the per-collection record count.
type TotalCounts struct {
	Bikes      int64 `json:"bikes"`
	Devices    int64 `json:"devices"`
	DeviceData int64 `json:"deviceData"`
}
