// Package seed loads a bike and device fixture into a store and can fill it
// with generated test readings.
package seed

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
	"gopkg.in/yaml.v3"
)

// ErrNoReferences is returned when readings are requested before any bike
// or device exists
var ErrNoReferences = errors.New("seed bikes and devices before readings")

type BikeFixture struct {
	Name              string `yaml:"name"`
	Label             string `yaml:"label"`
	Description       string `yaml:"description"`
	TopicPrefix       string `yaml:"mqttTopicPrefix"`
	ReportTopicSuffix string `yaml:"mqttReportTopicSuffix"`
}

type DeviceFixture struct {
	// Bike is the fixture name of the owning bike, if any
	Bike            string                 `yaml:"bike"`
	Name            string                 `yaml:"name"`
	Label           string                 `yaml:"label"`
	Description     string                 `yaml:"description"`
	DeviceType      string                 `yaml:"deviceType"`
	UnitName        string                 `yaml:"unitName"`
	TopicDeviceName string                 `yaml:"mqttTopicDeviceName"`
	BluetoothName   string                 `yaml:"bluetoothName"`
	MacAddress      string                 `yaml:"macAddress"`
	Metadata        map[string]interface{} `yaml:"metadata"`
}

// Fixture is the seed file layout
type Fixture struct {
	Bikes   []BikeFixture   `yaml:"bikes"`
	Devices []DeviceFixture `yaml:"devices"`
}

// DefaultFixture mirrors the two campus bikes and their sensors
func DefaultFixture() Fixture {
	return Fixture{
		Bikes: []BikeFixture{
			{Name: "000001", Label: "bike-01", Description: "the first smart bike for Burwood campus", TopicPrefix: "bike/000001", ReportTopicSuffix: "report"},
			{Name: "000002", Label: "bike-02", Description: "the second smart bike for Geelong campus", TopicPrefix: "bike/000002", ReportTopicSuffix: "report"},
		},
		Devices: []DeviceFixture{
			{Bike: "000001", Name: "Wahoo Speed Sensor # 1", Label: "speed-sensor-1", DeviceType: "speed", UnitName: "RPM", TopicDeviceName: "speed",
				BluetoothName: "Wahoo Speed Sensor 111", MacAddress: "2b:80:12:45:bf:dd", Metadata: map[string]interface{}{"firmwareVersion": "1.0.1"}},
			{Bike: "000002", Name: "Wahoo Cadence Sensor # 2", Label: "cadence-sensor-2", DeviceType: "cadence", UnitName: "RPM", TopicDeviceName: "cadence",
				BluetoothName: "Wahoo Cadence Sensor 222", MacAddress: "2b:80:12:35:bf:cc", Metadata: map[string]interface{}{"firmwareVersion": "1.0.1"}},
			{Bike: "000001", Name: "Wahoo Kickr Trainer # 1", Label: "kickr-trainer-1", DeviceType: "resistance", UnitName: "percentage", TopicDeviceName: "resistance",
				BluetoothName: "Wahoo Kickr Trainer 111", MacAddress: "2b:80:13:45:cf:dd", Metadata: map[string]interface{}{"firmwareVersion": "2.0.1"}},
			{Bike: "000001", Name: "Wahoo Kickr Climb # 2", Label: "kickr-climb-2", DeviceType: "incline", UnitName: "percentage", TopicDeviceName: "incline",
				BluetoothName: "Wahoo Kickr Climb 222", MacAddress: "2b:82:13:45:bf:dd", Metadata: map[string]interface{}{"firmwareVersion": "2.0.1"}},
		},
	}
}

// LoadFixture reads a YAML fixture file
func LoadFixture(path string) (Fixture, error) {
	var f Fixture
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read fixture: %w", err)
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return f, nil
}

// Seeder writes fixtures and generated readings
type Seeder struct {
	refs     interfaces.ReferenceRepository
	readings interfaces.ReadingWriter
	logger   *logger.Logger
	rng      *rand.Rand
}

func NewSeeder(store interfaces.Store, log *logger.Logger, rng *rand.Rand) *Seeder {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Seeder{
		refs:     store.References(),
		readings: store.Readings(),
		logger:   log.WithComponent("seeder"),
		rng:      rng,
	}
}

// SeedReferences upserts every bike, then every device. Re-running with the
// same fixture updates rows in place.
func (s *Seeder) SeedReferences(ctx context.Context, f Fixture) error {
	bikeIDs := make(map[string]string, len(f.Bikes))
	for _, b := range f.Bikes {
		bike := mqtmodels.Bike{
			Name:                  b.Name,
			Label:                 b.Label,
			Description:           b.Description,
			MQTTTopicPrefix:       b.TopicPrefix,
			MQTTReportTopicSuffix: b.ReportTopicSuffix,
		}
		if err := s.refs.UpsertBike(ctx, &bike); err != nil {
			return err
		}
		bikeIDs[bike.Name] = bike.ID
	}

	for _, d := range f.Devices {
		t, err := mqtmodels.ParseDeviceType(d.DeviceType)
		if err != nil {
			return fmt.Errorf("device %q: %w", d.Name, err)
		}
		device := mqtmodels.Device{
			Name:                d.Name,
			Label:               d.Label,
			Description:         d.Description,
			DeviceType:          t,
			UnitName:            d.UnitName,
			MQTTTopicDeviceName: d.TopicDeviceName,
			BluetoothName:       d.BluetoothName,
			MacAddress:          d.MacAddress,
			Metadata:            d.Metadata,
		}
		if d.Bike != "" {
			id, ok := bikeIDs[d.Bike]
			if !ok {
				return fmt.Errorf("device %q references unknown bike %q", d.Name, d.Bike)
			}
			device.BikeID = id
		}
		if err := s.refs.UpsertDevice(ctx, &device); err != nil {
			return err
		}
	}

	s.logger.Logger.Info().Int("bikes", len(f.Bikes)).Int("devices", len(f.Devices)).Msg("Seeded reference directory")
	return nil
}

// SeedReadings inserts n readings spread over the window before until. Each
// is flagged as test data through metadata.testing.
func (s *Seeder) SeedReadings(ctx context.Context, n int, window time.Duration, until time.Time) error {
	bikes, err := s.refs.ListBikes(ctx)
	if err != nil {
		return err
	}
	devices, err := s.refs.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(bikes) == 0 || len(devices) == 0 {
		return ErrNoReferences
	}
	if window <= 0 {
		window = 24 * time.Hour
	}

	for i := 0; i < n; i++ {
		bike := bikes[s.rng.IntN(len(bikes))]
		device := devices[s.rng.IntN(len(devices))]
		r := mqtmodels.DeviceReading{
			BikeID:     bike.ID,
			BikeName:   bike.Name,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			DeviceType: device.DeviceType,
			UnitName:   device.UnitName,
			Value:      float64(s.rng.IntN(201)),
			Metadata:   map[string]interface{}{"firmwareVersion": "1.0.1", "testing": true},
			ReportedAt: until.Add(-time.Duration(s.rng.Int64N(int64(window)))).UTC(),
		}
		if _, err := s.readings.InsertReading(ctx, &r); err != nil {
			return fmt.Errorf("reading %d: %w", i, err)
		}
	}

	s.logger.Logger.Info().Int("readings", n).Msg("Seeded test readings")
	return nil
}
