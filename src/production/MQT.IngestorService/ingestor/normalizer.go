package mqtingestor

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ErrMalformedPayload marks a body whose value cannot be read as a finite number
var ErrMalformedPayload = errors.New("malformed payload")

// Normalizer turns raw message bodies into readings
type Normalizer struct {
	now    func() time.Time
	logger *logger.Logger
}

func NewNormalizer(log *logger.Logger) *Normalizer {
	return &Normalizer{now: time.Now, logger: log.WithComponent("normalizer")}
}

// Normalize builds a reading draft for a classified topic. The device type
// always comes from c, never from the body.
func (n *Normalizer) Normalize(topic string, c Classification, raw []byte) (*mqtmodels.DeviceReading, error) {
	reading := &mqtmodels.DeviceReading{DeviceType: c.DeviceType}
	withUnit := true

	switch p := parsePayload(raw).(type) {
	case invalidPayload:
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, p.reason)

	case bareNumber:
		// a bare value carries no unit, and none is assumed
		reading.Value = p.value
		reading.ReportedAt = n.now().UTC()
		withUnit = false

	case jsonPayload:
		v, err := numericField(p.fields["value"])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		reading.Value = v
		reading.UnitName = stringField(p.fields, "unitName")
		reading.BikeName = stringField(p.fields, "bikeName")
		reading.DeviceName = stringField(p.fields, "deviceName")
		reading.BikeID = stringField(p.fields, "bikeId")
		reading.DeviceID = stringField(p.fields, "deviceId")
		reading.WorkoutID = stringField(p.fields, "workoutId")
		reading.UserID = stringField(p.fields, "userId")
		reading.Metadata = metadataField(p.fields["metadata"])
		if reading.DeviceName == "" && reading.Metadata != nil {
			if name, ok := reading.Metadata["deviceName"].(string); ok {
				reading.DeviceName = name
			}
		}
		reading.ReportedAt = n.reportedAt(topic, p.fields)
	}

	enrich(reading, c, withUnit)
	return reading, nil
}

// reportedAt prefers reportedAt, then timestamp, then now. An unparseable
// candidate is logged and skipped.
func (n *Normalizer) reportedAt(topic string, fields map[string]interface{}) time.Time {
	for _, key := range []string{"reportedAt", "timestamp"} {
		raw, ok := fields[key]
		if !ok || raw == nil {
			continue
		}
		t, err := parseInstant(raw)
		if err != nil {
			n.logger.Warn().Err(err).Str("topic", topic).Str("field", key).Msg("Ignoring unparseable timestamp")
			continue
		}
		return t
	}
	return n.now().UTC()
}

// enrich fills gaps from the directory and the topic. The directory unit is
// only applied when withUnit is set.
func enrich(r *mqtmodels.DeviceReading, c Classification, withUnit bool) {
	if d := c.Device; d != nil {
		if r.DeviceID == "" {
			r.DeviceID = d.ID
		}
		if r.DeviceName == "" {
			r.DeviceName = d.Name
		}
		if withUnit && r.UnitName == "" {
			r.UnitName = d.UnitName
		}
	}
	if b := c.Bike; b != nil {
		if r.BikeID == "" {
			r.BikeID = b.ID
		}
		if r.BikeName == "" {
			r.BikeName = b.Name
		}
	}
	if r.BikeName == "" {
		r.BikeName = c.BikeIdentifier
	}
}

// parseInstant accepts ISO-8601 strings, numeric strings and numbers of
// epoch seconds. Fractional seconds are kept.
func parseInstant(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case json.Number:
		f, err := parseNumber(val.String())
		if err != nil {
			return time.Time{}, err
		}
		return epochSeconds(f)
	case string:
		s := strings.TrimSpace(val)
		if f, err := parseNumber(s); err == nil {
			return epochSeconds(f)
		}
		t, err := iso8601.ParseString(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid ISO-8601 time %q: %w", truncate(s, 64), err)
		}
		if err := mqtmodels.CheckInstant(t); err != nil {
			return time.Time{}, fmt.Errorf("ISO-8601 time %q: %w", truncate(s, 64), err)
		}
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
	}
}

func epochSeconds(f float64) (time.Time, error) {
	t, err := mqtmodels.FromEpochSeconds(f)
	if err != nil {
		return time.Time{}, fmt.Errorf("epoch seconds %v: %w", f, err)
	}
	return t, nil
}

func metadataField(v interface{}) map[string]interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil
	}
	return normalizeNumbers(m).(map[string]interface{})
}

// normalizeNumbers converts json.Number leaves so stores see plain numbers
func normalizeNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = normalizeNumbers(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeNumbers(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	}
	return v
}
