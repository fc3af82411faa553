package mqtingestor

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// ErrClassification marks a topic whose device fragment is unknown.
// Such messages are dropped, never persisted.
var ErrClassification = errors.New("unclassifiable topic")

var bikeIdentifierPattern = regexp.MustCompile(`\d+`)

// Classification is the outcome of routing a topic
type Classification struct {
	DeviceType mqtmodels.DeviceType
	// BikeIdentifier is the first run of digits in the topic, or empty
	BikeIdentifier string
	// Fragment is the lower-cased last non-empty topic segment
	Fragment string

	// Set when the reference directory recognised the topic
	Bike   *mqtmodels.Bike
	Device *mqtmodels.Device
}

// DirectoryLookup resolves topics against known bikes and devices
type DirectoryLookup interface {
	Resolve(topic, fragment string) (*mqtmodels.Bike, *mqtmodels.Device)
}

// Classifier maps topics to device types through a fragment table
type Classifier struct {
	fragments map[string]mqtmodels.DeviceType
	directory DirectoryLookup
}

// NewClassifier builds the fragment table. Every mapped type must belong to
// the closed device-type set.
func NewClassifier(fragments map[string]string, directory DirectoryLookup) (*Classifier, error) {
	if len(fragments) == 0 {
		return nil, fmt.Errorf("no topic fragments configured")
	}

	table := make(map[string]mqtmodels.DeviceType, len(fragments))
	for fragment, name := range fragments {
		key := strings.ToLower(strings.TrimSpace(fragment))
		if key == "" || strings.Contains(key, "/") {
			return nil, fmt.Errorf("invalid topic fragment %q", fragment)
		}
		t, err := mqtmodels.ParseDeviceType(name)
		if err != nil {
			return nil, fmt.Errorf("topic fragment %q: %w", fragment, err)
		}
		table[key] = t
	}

	return &Classifier{fragments: table, directory: directory}, nil
}

// Classify resolves topic into a device type and bike identifier. A device
// registered in the directory for the fragment wins over the static table.
func (c *Classifier) Classify(topic string) (Classification, error) {
	fragment := lastSegment(topic)
	result := Classification{
		Fragment:       fragment,
		BikeIdentifier: bikeIdentifierPattern.FindString(topic),
	}
	if fragment == "" {
		return result, fmt.Errorf("%w: no device fragment in %q", ErrClassification, topic)
	}

	if c.directory != nil {
		bike, device := c.directory.Resolve(topic, fragment)
		result.Bike = bike
		if device != nil && device.DeviceType.Valid() {
			result.Device = device
			result.DeviceType = device.DeviceType
			return result, nil
		}
	}

	t, ok := c.fragments[fragment]
	if !ok {
		return result, fmt.Errorf("%w: unknown device fragment %q", ErrClassification, fragment)
	}
	result.DeviceType = t
	return result, nil
}

// lastSegment returns the last non-empty "/" token, lower-cased
func lastSegment(topic string) string {
	parts := strings.Split(topic, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if s := strings.TrimSpace(parts[i]); s != "" {
			return strings.ToLower(s)
		}
	}
	return ""
}
