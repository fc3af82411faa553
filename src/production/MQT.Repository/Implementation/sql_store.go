package implementation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
	_ "modernc.org/sqlite"
)

// SQLStore serves PostgreSQL and SQLite through database/sql
type SQLStore struct {
	db       *sql.DB
	driver   string
	readings *SQLReadingRepository
	refs     *SQLReferenceRepository
}

// ConnectPostgresWithTimeout opens and pings a PostgreSQL pool
func ConnectPostgresWithTimeout(cfg config.StoreConfig) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		return nil, fmt.Errorf("unable to open PostgreSQL connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// ConnectSQLite opens a single-connection SQLite database. ":memory:" works
// because the one connection is never recycled.
func ConnectSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("unable to open SQLite database: %w", err)
	}

	// One physical connection; no concurrent statements at DB layer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s failed: %w", p, err)
		}
	}
	return db, nil
}

// NewSQLStore wires repositories over db. driverName is config.DriverPostgres
// or config.DriverSQLite.
func NewSQLStore(db *sql.DB, driverName string) *SQLStore {
	return &SQLStore{
		db:       db,
		driver:   driverName,
		readings: NewSQLReadingRepository(db, driverName),
		refs:     NewSQLReferenceRepository(db, driverName),
	}
}

func (s *SQLStore) Readings() interfaces.ReadingRepository     { return s.readings }
func (s *SQLStore) References() interfaces.ReferenceRepository { return s.refs }
func (s *SQLStore) Driver() string                             { return s.driver }

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// Init creates the required tables if they don't exist
func (s *SQLStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	statements := postgresSchema
	if s.driver == config.DriverSQLite {
		statements = sqliteSchema
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS bikes (
		id                       TEXT PRIMARY KEY,
		name                     TEXT NOT NULL UNIQUE,
		label                    TEXT NOT NULL DEFAULT '',
		description              TEXT NOT NULL DEFAULT '',
		mqtt_topic_prefix        TEXT NOT NULL DEFAULT '',
		mqtt_report_topic_suffix TEXT NOT NULL DEFAULT '',
		created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id                     TEXT PRIMARY KEY,
		bike_id                TEXT NOT NULL DEFAULT '',
		name                   TEXT NOT NULL UNIQUE,
		label                  TEXT NOT NULL DEFAULT '',
		description            TEXT NOT NULL DEFAULT '',
		device_type            TEXT NOT NULL,
		unit_name              TEXT NOT NULL DEFAULT '',
		mqtt_topic_device_name TEXT NOT NULL DEFAULT '',
		mac_address            TEXT NOT NULL DEFAULT '',
		bluetooth_name         TEXT NOT NULL DEFAULT '',
		metadata               JSONB NOT NULL DEFAULT '{}',
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS device_data (
		id          TEXT PRIMARY KEY,
		bike_id     TEXT NOT NULL DEFAULT '',
		device_id   TEXT NOT NULL DEFAULT '',
		workout_id  TEXT NOT NULL DEFAULT '',
		user_id     TEXT NOT NULL DEFAULT '',
		device_name TEXT NOT NULL DEFAULT '',
		bike_name   TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL,
		unit_name   TEXT NOT NULL DEFAULT '',
		value       DOUBLE PRECISION NOT NULL,
		testing     BOOLEAN NOT NULL DEFAULT false,
		metadata    JSONB NOT NULL DEFAULT '{}',
		reported_at TIMESTAMPTZ NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_reported_at ON device_data (reported_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_type_bike ON device_data (device_type, bike_name, reported_at DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS bikes (
		id                       TEXT PRIMARY KEY,
		name                     TEXT NOT NULL UNIQUE,
		label                    TEXT NOT NULL DEFAULT '',
		description              TEXT NOT NULL DEFAULT '',
		mqtt_topic_prefix        TEXT NOT NULL DEFAULT '',
		mqtt_report_topic_suffix TEXT NOT NULL DEFAULT '',
		created_at               TEXT NOT NULL,
		updated_at               TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS devices (
		id                     TEXT PRIMARY KEY,
		bike_id                TEXT NOT NULL DEFAULT '',
		name                   TEXT NOT NULL UNIQUE,
		label                  TEXT NOT NULL DEFAULT '',
		description            TEXT NOT NULL DEFAULT '',
		device_type            TEXT NOT NULL,
		unit_name              TEXT NOT NULL DEFAULT '',
		mqtt_topic_device_name TEXT NOT NULL DEFAULT '',
		mac_address            TEXT NOT NULL DEFAULT '',
		bluetooth_name         TEXT NOT NULL DEFAULT '',
		metadata               TEXT NOT NULL DEFAULT '{}',
		created_at             TEXT NOT NULL,
		updated_at             TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS device_data (
		id          TEXT PRIMARY KEY,
		bike_id     TEXT NOT NULL DEFAULT '',
		device_id   TEXT NOT NULL DEFAULT '',
		workout_id  TEXT NOT NULL DEFAULT '',
		user_id     TEXT NOT NULL DEFAULT '',
		device_name TEXT NOT NULL DEFAULT '',
		bike_name   TEXT NOT NULL DEFAULT '',
		device_type TEXT NOT NULL,
		unit_name   TEXT NOT NULL DEFAULT '',
		value       REAL NOT NULL,
		testing     INTEGER NOT NULL DEFAULT 0,
		metadata    TEXT NOT NULL DEFAULT '{}',
		reported_at TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_reported_at ON device_data (reported_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_device_data_type_bike ON device_data (device_type, bike_name, reported_at DESC)`,
}
