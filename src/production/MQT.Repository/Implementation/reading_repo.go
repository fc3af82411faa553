package implementation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

const readingColumns = `id, bike_id, device_id, workout_id, user_id, device_name, bike_name,
	device_type, unit_name, value, metadata, reported_at, created_at, updated_at`

// SQLReadingRepository stores readings in the device_data table
type SQLReadingRepository struct {
	db     *sql.DB
	driver string
}

func NewSQLReadingRepository(db *sql.DB, driverName string) *SQLReadingRepository {
	return &SQLReadingRepository{db: db, driver: driverName}
}

func (r *SQLReadingRepository) InsertReading(ctx context.Context, reading *mqtmodels.DeviceReading) (string, error) {
	metaJSON, err := json.Marshal(ensureMetaNotNull(reading.Metadata))
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	id := uuid.NewString()

	next := newPlaceholderGenerator(r.driver)
	ph := make([]string, 15)
	for i := range ph {
		ph[i] = next()
	}
	query := fmt.Sprintf(`
		INSERT INTO device_data (id, bike_id, device_id, workout_id, user_id, device_name, bike_name,
			device_type, unit_name, value, testing, metadata, reported_at, created_at, updated_at)
		VALUES (%s)`, strings.Join(ph, ", "))

	_, err = r.db.ExecContext(ctx, query,
		id, reading.BikeID, reading.DeviceID, reading.WorkoutID, reading.UserID,
		reading.DeviceName, reading.BikeName, string(reading.DeviceType), reading.UnitName,
		reading.Value, reading.IsTesting(), string(metaJSON),
		timeArg(r.driver, reading.ReportedAt), timeArg(r.driver, now), timeArg(r.driver, now),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert reading: %w", err)
	}

	reading.ID, reading.CreatedAt, reading.UpdatedAt = id, now, now
	return id, nil
}

func (r *SQLReadingRepository) FindLatest(ctx context.Context, filter mqtmodels.ReadingFilter) (*mqtmodels.DeviceReading, error) {
	w := newWhereBuilder(r.driver)
	if filter.DeviceType != "" {
		w.add("device_type = %s", string(filter.DeviceType))
	}
	if filter.BikeName != "" {
		w.add("bike_name = %s", filter.BikeName)
	}
	w.timeRange(filter.After, filter.Before)

	query := fmt.Sprintf(`SELECT %s FROM device_data%s ORDER BY reported_at DESC LIMIT 1`, readingColumns, w.clause())
	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest reading: %w", err)
	}
	defer rows.Close()

	readings, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return &readings[0], nil
}

func (r *SQLReadingRepository) FindMany(ctx context.Context, q mqtmodels.ReadingsQuery) ([]mqtmodels.DeviceReading, error) {
	w := newWhereBuilder(r.driver)
	w.timeRange(q.After, q.Before)
	if q.Keyword != "" {
		pattern := likeContains(q.Keyword)
		a, b, c := w.next(), w.next(), w.next()
		w.conds = append(w.conds, fmt.Sprintf(
			"(LOWER(device_name) LIKE %s ESCAPE '!' OR LOWER(bike_name) LIKE %s ESCAPE '!' OR LOWER(unit_name) LIKE %s ESCAPE '!')",
			a, b, c))
		w.args = append(w.args, pattern, pattern, pattern)
	}
	if q.Testing {
		w.add("testing = %s", true)
	}
	if len(q.DeviceTypes) > 0 {
		ph := make([]string, len(q.DeviceTypes))
		for i, t := range q.DeviceTypes {
			ph[i] = w.next()
			w.args = append(w.args, string(t))
		}
		w.conds = append(w.conds, fmt.Sprintf("device_type IN (%s)", strings.Join(ph, ", ")))
	}
	if q.ValueRange != nil {
		w.add("value >= %s", q.ValueRange.Min)
		w.add("value <= %s", q.ValueRange.Max)
	}
	if q.BikeName != "" {
		w.add("bike_name = %s", q.BikeName)
	}
	if q.BikeID != "" {
		w.add("bike_id = %s", q.BikeID)
	}

	limit := w.next()
	w.args = append(w.args, q.Limit)

	query := fmt.Sprintf(`SELECT %s FROM device_data%s ORDER BY reported_at DESC LIMIT %s`, readingColumns, w.clause(), limit)
	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	return scanReadings(rows)
}

func (r *SQLReadingRepository) CountReadings(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM device_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count readings: %w", err)
	}
	return n, nil
}

func (r *SQLReadingRepository) CountByDeviceType(ctx context.Context) (map[mqtmodels.DeviceType]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT device_type, COUNT(*) FROM device_data GROUP BY device_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to count readings by device type: %w", err)
	}
	defer rows.Close()

	counts := make(map[mqtmodels.DeviceType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[mqtmodels.DeviceType(t)] = n
	}
	return counts, rows.Err()
}

func scanReadings(rows *sql.Rows) ([]mqtmodels.DeviceReading, error) {
	readings := make([]mqtmodels.DeviceReading, 0)

	for rows.Next() {
		var reading mqtmodels.DeviceReading
		var deviceType string
		var metaJSON []byte
		var reportedAt, createdAt, updatedAt timeValue

		if err := rows.Scan(
			&reading.ID, &reading.BikeID, &reading.DeviceID, &reading.WorkoutID, &reading.UserID,
			&reading.DeviceName, &reading.BikeName, &deviceType, &reading.UnitName, &reading.Value,
			&metaJSON, &reportedAt, &createdAt, &updatedAt,
		); err != nil {
			return nil, err
		}

		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &reading.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		reading.DeviceType = mqtmodels.DeviceType(deviceType)
		reading.ReportedAt, reading.CreatedAt, reading.UpdatedAt = reportedAt.Time, createdAt.Time, updatedAt.Time

		readings = append(readings, reading)
	}

	return readings, rows.Err()
}

// whereBuilder accumulates AND-ed conditions with driver placeholders
type whereBuilder struct {
	driver string
	next   func() string
	conds  []string
	args   []interface{}
}

func newWhereBuilder(driverName string) *whereBuilder {
	return &whereBuilder{driver: driverName, next: newPlaceholderGenerator(driverName)}
}

// add appends a condition whose single %s is replaced by a placeholder
func (w *whereBuilder) add(cond string, arg interface{}) {
	w.conds = append(w.conds, fmt.Sprintf(cond, w.next()))
	w.args = append(w.args, arg)
}

// timeRange adds inclusive bounds on reported_at
func (w *whereBuilder) timeRange(after, before *time.Time) {
	if before != nil {
		w.add("reported_at <= %s", timeArg(w.driver, *before))
	}
	if after != nil {
		w.add("reported_at >= %s", timeArg(w.driver, *after))
	}
}

func (w *whereBuilder) clause() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var errNoRowsUpserted = errors.New("upsert returned no row")
