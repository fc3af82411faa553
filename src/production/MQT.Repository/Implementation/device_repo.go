package implementation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

// SQLReferenceRepository holds the bikes and devices tables
type SQLReferenceRepository struct {
	db     *sql.DB
	driver string
}

func NewSQLReferenceRepository(db *sql.DB, driverName string) *SQLReferenceRepository {
	return &SQLReferenceRepository{db: db, driver: driverName}
}

// Create bike (idempotent upsert on name)
func (r *SQLReferenceRepository) UpsertBike(ctx context.Context, bike *mqtmodels.Bike) error {
	next := newPlaceholderGenerator(r.driver)
	query := fmt.Sprintf(`
		INSERT INTO bikes (id, name, label, description, mqtt_topic_prefix, mqtt_report_topic_suffix, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (name)
		DO UPDATE SET label = EXCLUDED.label, description = EXCLUDED.description,
			mqtt_topic_prefix = EXCLUDED.mqtt_topic_prefix,
			mqtt_report_topic_suffix = EXCLUDED.mqtt_report_topic_suffix,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		next(), next(), next(), next(), next(), next(), next(), next())

	now := timeArg(r.driver, time.Now())
	var createdAt, updatedAt timeValue
	err := r.db.QueryRowContext(ctx, query,
		uuid.NewString(), bike.Name, bike.Label, bike.Description,
		bike.MQTTTopicPrefix, bike.MQTTReportTopicSuffix, now, now,
	).Scan(&bike.ID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to upsert bike %s: %w", bike.Name, errNoRowsUpserted)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert bike %s: %w", bike.Name, err)
	}
	bike.CreatedAt, bike.UpdatedAt = createdAt.Time, updatedAt.Time
	return nil
}

// Create device (idempotent upsert on name)
func (r *SQLReferenceRepository) UpsertDevice(ctx context.Context, device *mqtmodels.Device) error {
	metaJSON, err := json.Marshal(ensureMetaNotNull(device.Metadata))
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	next := newPlaceholderGenerator(r.driver)
	query := fmt.Sprintf(`
		INSERT INTO devices (id, bike_id, name, label, description, device_type, unit_name,
			mqtt_topic_device_name, mac_address, bluetooth_name, metadata, created_at, updated_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
		ON CONFLICT (name)
		DO UPDATE SET bike_id = EXCLUDED.bike_id, label = EXCLUDED.label,
			description = EXCLUDED.description, device_type = EXCLUDED.device_type,
			unit_name = EXCLUDED.unit_name, mqtt_topic_device_name = EXCLUDED.mqtt_topic_device_name,
			mac_address = EXCLUDED.mac_address, bluetooth_name = EXCLUDED.bluetooth_name,
			metadata = EXCLUDED.metadata, updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`,
		next(), next(), next(), next(), next(), next(), next(), next(), next(), next(), next(), next(), next())

	now := timeArg(r.driver, time.Now())
	var createdAt, updatedAt timeValue
	err = r.db.QueryRowContext(ctx, query,
		uuid.NewString(), device.BikeID, device.Name, device.Label, device.Description,
		string(device.DeviceType), device.UnitName, device.MQTTTopicDeviceName,
		device.MacAddress, device.BluetoothName, string(metaJSON), now, now,
	).Scan(&device.ID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to upsert device %s: %w", device.Name, errNoRowsUpserted)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.Name, err)
	}
	device.CreatedAt, device.UpdatedAt = createdAt.Time, updatedAt.Time
	return nil
}

func (r *SQLReferenceRepository) ListBikes(ctx context.Context) ([]mqtmodels.Bike, error) {
	query := `SELECT id, name, label, description, mqtt_topic_prefix, mqtt_report_topic_suffix, created_at, updated_at
		FROM bikes ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list bikes: %w", err)
	}
	defer rows.Close()

	var bikes []mqtmodels.Bike
	for rows.Next() {
		var bike mqtmodels.Bike
		var createdAt, updatedAt timeValue

		if err := rows.Scan(&bike.ID, &bike.Name, &bike.Label, &bike.Description,
			&bike.MQTTTopicPrefix, &bike.MQTTReportTopicSuffix, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		bike.CreatedAt, bike.UpdatedAt = createdAt.Time, updatedAt.Time
		bikes = append(bikes, bike)
	}

	return bikes, rows.Err()
}

func (r *SQLReferenceRepository) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	query := `SELECT id, bike_id, name, label, description, device_type, unit_name,
			mqtt_topic_device_name, mac_address, bluetooth_name, metadata, created_at, updated_at
		FROM devices ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []mqtmodels.Device
	for rows.Next() {
		var device mqtmodels.Device
		var deviceType string
		var metaJSON []byte
		var createdAt, updatedAt timeValue

		if err := rows.Scan(&device.ID, &device.BikeID, &device.Name, &device.Label, &device.Description,
			&deviceType, &device.UnitName, &device.MQTTTopicDeviceName, &device.MacAddress,
			&device.BluetoothName, &metaJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(metaJSON, &device.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		device.DeviceType = mqtmodels.DeviceType(deviceType)
		device.CreatedAt, device.UpdatedAt = createdAt.Time, updatedAt.Time
		devices = append(devices, device)
	}

	return devices, rows.Err()
}

func (r *SQLReferenceRepository) CountBikes(ctx context.Context) (int64, error) {
	return r.count(ctx, "bikes")
}

func (r *SQLReferenceRepository) CountDevices(ctx context.Context) (int64, error) {
	return r.count(ctx, "devices")
}

func (r *SQLReferenceRepository) count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
