package devicedata

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ParseTime reads an ISO-8601 instant or epoch seconds. Empty input yields nil.
func ParseTime(field, s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		t, err := mqtmodels.FromEpochSeconds(f)
		if err != nil {
			return nil, invalid(field, "epoch seconds out of range")
		}
		return &t, nil
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return nil, invalid(field, "expected ISO-8601 or epoch seconds, got %q", s)
	}
	if err := mqtmodels.CheckInstant(t); err != nil {
		return nil, invalid(field, "year must be at most 9999")
	}
	t = t.UTC()
	return &t, nil
}

// ParseDeviceType accepts an empty value as "any"
func ParseDeviceType(field, s string) (mqtmodels.DeviceType, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := mqtmodels.ParseDeviceType(s)
	if err != nil {
		return "", invalid(field, "%v", err)
	}
	return t, nil
}

// ParseDeviceTypes accepts repeated and comma-separated values
func ParseDeviceTypes(field string, values []string) ([]mqtmodels.DeviceType, error) {
	var out []mqtmodels.DeviceType
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			t, err := ParseDeviceType(field, part)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// ParseValueRange reads exactly two numbers, given repeated or comma-separated
func ParseValueRange(field string, values []string) (*mqtmodels.ValueRange, error) {
	var nums []float64
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, invalid(field, "%q is not a number", part)
			}
			nums = append(nums, f)
		}
	}
	switch len(nums) {
	case 0:
		return nil, nil
	case 2:
		return &mqtmodels.ValueRange{Min: nums[0], Max: nums[1]}, nil
	default:
		return nil, invalid(field, "expected [min, max], got %d values", len(nums))
	}
}

// ParseBool treats empty input as false
func ParseBool(field, s string) (bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, invalid(field, "expected true or false, got %q", s)
	}
	return b, nil
}

// ParseLimit treats empty input as 0, which selects the default
func ParseLimit(field, s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid(field, "expected an integer, got %q", s)
	}
	return n, nil
}
