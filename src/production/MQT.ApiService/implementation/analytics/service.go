package analytics

import (
	"context"
	"fmt"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

// TotalKey holds the sum of all device types in DeviceDataCounts
const TotalKey = "total"

// Service computes record counts for dashboards
type Service struct {
	readings   interfaces.ReadingQueryRepository
	references interfaces.ReferenceRepository
}

func NewService(readings interfaces.ReadingQueryRepository, references interfaces.ReferenceRepository) *Service {
	return &Service{readings: readings, references: references}
}

// TotalCounts counts bikes, devices and readings
func (s *Service) TotalCounts(ctx context.Context) (mqtmodels.TotalCounts, error) {
	var out mqtmodels.TotalCounts
	var err error

	if out.Bikes, err = s.references.CountBikes(ctx); err != nil {
		return out, fmt.Errorf("failed to count bikes: %w", err)
	}
	if out.Devices, err = s.references.CountDevices(ctx); err != nil {
		return out, fmt.Errorf("failed to count devices: %w", err)
	}
	if out.DeviceData, err = s.readings.CountReadings(ctx); err != nil {
		return out, fmt.Errorf("failed to count device data: %w", err)
	}
	return out, nil
}

// DeviceDataCounts returns the reading count of every device type, zero
// included, plus their sum under TotalKey. Stored types outside the closed
// set are left out.
func (s *Service) DeviceDataCounts(ctx context.Context) (map[string]int64, error) {
	byType, err := s.readings.CountByDeviceType(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count device data by type: %w", err)
	}

	out := make(map[string]int64, len(byType)+1)
	var total int64
	for _, t := range mqtmodels.DeviceTypes() {
		n := byType[t]
		out[string(t)] = n
		total += n
	}
	out[TotalKey] = total
	return out, nil
}
