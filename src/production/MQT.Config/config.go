package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers understood by the repository layer.
const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Write modes for the persistence gateway.
const (
	WriteModeSync  = "sync"
	WriteModeAsync = "async"
)

// Config holds the API service configuration
type Config struct {
	Server  ServerConfig  `json:"server"`
	Store   StoreConfig   `json:"store"`
	Query   QueryConfig   `json:"query"`
	Logging LoggingConfig `json:"logging"`
	CORS    CORSConfig    `json:"cors"`
}

// IngestorConfig holds configuration for the MQTT ingestor service
type IngestorConfig struct {
	Server   ServerConfig   `json:"server"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Store    StoreConfig    `json:"store"`
	Ingest   IngestConfig   `json:"ingest"`
	Notifier NotifierConfig `json:"notifier"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// StoreConfig selects and configures the reading store
type StoreConfig struct {
	Driver string `json:"driver"`

	// MongoDB
	MongoURI           string `json:"mongo_uri"`
	MongoDatabase      string `json:"mongo_database"`
	ReadingsCollection string `json:"readings_collection"`
	BikesCollection    string `json:"bikes_collection"`
	DevicesCollection  string `json:"devices_collection"`

	// PostgreSQL
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
	MinConns int    `json:"min_conns"`

	// SQLite
	SQLitePath string `json:"sqlite_path"`

	ConnectTimeout time.Duration `json:"connect_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	QueryTimeout   time.Duration `json:"query_timeout"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost           string        `json:"broker_host"`
	BrokerPort           int           `json:"broker_port"`
	Protocol             string        `json:"protocol"`
	BrokerUser           string        `json:"broker_user"`
	BrokerPass           string        `json:"broker_pass"`
	UseTLS               bool          `json:"use_tls"`
	CACertPath           string        `json:"ca_cert_path"`
	Topics               []string      `json:"topics"`
	QoS                  byte          `json:"qos"`
	ClientID             string        `json:"client_id"`
	SharedGroup          string        `json:"shared_group"`
	KeepAlive            time.Duration `json:"keep_alive"`
	PingTimeout          time.Duration `json:"ping_timeout"`
	ConnectRetryInterval time.Duration `json:"connect_retry_interval"`
	ConnectTimeout       time.Duration `json:"connect_timeout"`
	ErrorTopicEnabled    bool          `json:"error_topic_enabled"`

	// Embedded starts an in-process broker on EmbeddedAddr, for local development.
	Embedded     bool   `json:"embedded"`
	EmbeddedAddr string `json:"embedded_addr"`
}

// IngestConfig tunes the dispatcher and persistence gateway
type IngestConfig struct {
	Workers            int               `json:"workers"`
	QueueSize          int               `json:"queue_size"`
	WriteMode          string            `json:"write_mode"`
	TopicFragments     map[string]string `json:"topic_fragments"`
	DirectoryRefresh   time.Duration     `json:"directory_refresh"`
	BreakerMaxFailures uint32            `json:"breaker_max_failures"`
	BreakerTimeout     time.Duration     `json:"breaker_timeout"`
}

// NotifierConfig controls the dashboard refresh signal
type NotifierConfig struct {
	Topic       string        `json:"topic"`
	Every       int           `json:"every"`
	MinInterval time.Duration `json:"min_interval"`
}

// QueryConfig bounds read queries
type QueryConfig struct {
	DefaultLimit int `json:"default_limit"`
	MaxLimit     int `json:"max_limit"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout, stderr, or file path
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// deviceTopicEnv lists the legacy per-type topic variables.
var deviceTopicEnv = []string{
	"MQTT_SPEED_TOPIC",
	"MQTT_CADENCE_TOPIC",
	"MQTT_POWER_TOPIC",
	"MQTT_HEART_RATE_TOPIC",
	"MQTT_RESISTANCE_TOPIC",
	"MQTT_INCLINE_TOPIC",
	"MQTT_FAN_TOPIC",
}

var defaultTopics = []string{
	"bike/+/speed",
	"bike/+/cadence",
	"bike/+/power",
	"bike/+/heart-rate",
	"bike/+/resistance",
	"bike/+/incline",
	"bike/+/fan",
}

var defaultTopicFragments = map[string]string{
	"speed":      "speed",
	"cadence":    "cadence",
	"power":      "power",
	"heart-rate": "heart-rate",
	"heartrate":  "heart-rate",
	"heart_rate": "heart-rate",
	"resistance": "resistance",
	"incline":    "incline",
	"fan":        "fan",
	"head-wind":  "fan",
	"headwind":   "fan",
}

// LoadIngestorConfig loads configuration for the MQTT ingestor service
func LoadIngestorConfig() (*IngestorConfig, error) {
	// .env is optional; variables may be set directly
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &IngestorConfig{
		Server: ServerConfig{
			Port:         env.str("INGESTOR_PORT", "9003"),
			ReadTimeout:  env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT: loadMQTT(env),
		Store: loadStore(env),
		Ingest: IngestConfig{
			Workers:            env.integer("INGEST_WORKERS", 4),
			QueueSize:          env.integer("INGEST_QUEUE_SIZE", 4096),
			WriteMode:          strings.ToLower(env.str("INGEST_WRITE_MODE", WriteModeSync)),
			TopicFragments:     env.keyValues("DEVICE_TOPIC_FRAGMENTS", defaultTopicFragments),
			DirectoryRefresh:   env.duration("DIRECTORY_REFRESH_INTERVAL", time.Minute),
			BreakerMaxFailures: uint32(env.integer("STORE_BREAKER_MAX_FAILURES", 5)),
			BreakerTimeout:     env.duration("STORE_BREAKER_TIMEOUT", 30*time.Second),
		},
		Notifier: NotifierConfig{
			Topic:       env.str("MQTT_REFRESH_TOPIC", "dashboard/refresh"),
			Every:       env.integer("NOTIFY_EVERY", 20),
			MinInterval: env.duration("NOTIFY_MIN_INTERVAL", time.Second),
		},
		Logging: loadLogging(env),
	}

	if err := env.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// LoadApiConfig loads configuration for the API service
func LoadApiConfig() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Server: ServerConfig{
			Port:         env.str("PORT", "9002"),
			ReadTimeout:  env.duration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: env.duration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  env.duration("IDLE_TIMEOUT", 120*time.Second),
		},
		Store: loadStore(env),
		Query: QueryConfig{
			DefaultLimit: env.integer("QUERY_DEFAULT_LIMIT", 100),
			MaxLimit:     env.integer("QUERY_MAX_LIMIT", 1000),
		},
		Logging: loadLogging(env),
		CORS: CORSConfig{
			AllowedOrigins:   env.list("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			AllowedMethods:   env.list("CORS_ALLOWED_METHODS", []string{"GET", "OPTIONS"}),
			AllowedHeaders:   env.list("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept", "Authorization"}),
			ExposedHeaders:   env.list("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: env.boolean("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           env.integer("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := env.err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadMQTT(env *envReader) MQTTConfig {
	topics := env.list("MQTT_TOPICS", nil)
	for _, key := range deviceTopicEnv {
		if t := strings.TrimSpace(os.Getenv(key)); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = append([]string(nil), defaultTopics...)
	}

	return MQTTConfig{
		BrokerHost:           env.str("BROKER_HOST", "localhost"),
		BrokerPort:           env.integer("BROKER_PORT", 1883),
		Protocol:             strings.ToLower(env.str("BROKER_PROTOCOL", "tcp")),
		BrokerUser:           env.str("BROKER_USER", ""),
		BrokerPass:           env.str("BROKER_PASS", ""),
		UseTLS:               env.boolean("BROKER_TLS", false),
		CACertPath:           env.str("BROKER_CA_FILE", ""),
		Topics:               topics,
		QoS:                  byte(env.integer("MQTT_QOS", 1)),
		ClientID:             env.str("MQTT_CLIENT_ID", ""),
		SharedGroup:          env.str("MQTT_SHARED_GROUP", ""),
		KeepAlive:            env.duration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout:          env.duration("MQTT_PING_TIMEOUT", 10*time.Second),
		ConnectRetryInterval: env.duration("MQTT_CONNECT_RETRY_INTERVAL", 5*time.Second),
		ConnectTimeout:       env.duration("MQTT_CONNECT_TIMEOUT", 30*time.Second),
		ErrorTopicEnabled:    env.boolean("MQTT_ERROR_TOPIC_ENABLED", false),
		Embedded:             env.boolean("BROKER_EMBEDDED", false),
		EmbeddedAddr:         env.str("BROKER_EMBEDDED_ADDR", ":1883"),
	}
}

func loadStore(env *envReader) StoreConfig {
	return StoreConfig{
		Driver:             strings.ToLower(env.str("STORE_DRIVER", DriverMongo)),
		MongoURI:           env.str("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDatabase:      env.str("DB_NAME", "sensors"),
		ReadingsCollection: env.str("READINGS_COLLECTION", "device_data"),
		BikesCollection:    env.str("BIKES_COLLECTION", "bikes"),
		DevicesCollection:  env.str("DEVICES_COLLECTION", "devices"),
		Host:               env.str("POSTGRES_HOST", "localhost"),
		Port:               env.integer("POSTGRES_PORT", 5432),
		User:               env.str("POSTGRES_USER", ""),
		Password:           env.str("POSTGRES_PASSWORD", ""),
		DBName:             env.str("POSTGRES_DB", "sensors"),
		SSLMode:            env.str("POSTGRES_SSLMODE", "disable"),
		MaxConns:           env.integer("POSTGRES_MAX_CONNS", 25),
		MinConns:           env.integer("POSTGRES_MIN_CONNS", 5),
		SQLitePath:         env.str("SQLITE_PATH", "sensors.db"),
		ConnectTimeout:     env.duration("STORE_CONNECT_TIMEOUT", 20*time.Second),
		WriteTimeout:       env.duration("STORE_WRITE_TIMEOUT", 3*time.Second),
		QueryTimeout:       env.duration("STORE_QUERY_TIMEOUT", 10*time.Second),
	}
}

func loadLogging(env *envReader) LoggingConfig {
	return LoggingConfig{
		Level:        env.str("LOG_LEVEL", "info"),
		Format:       env.str("LOG_FORMAT", "text"),
		Output:       env.str("LOG_OUTPUT", "stdout"),
		EnableCaller: env.boolean("LOG_ENABLE_CALLER", false),
	}
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.Store.validate())
	if c.Query.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("QUERY_DEFAULT_LIMIT must be positive"))
	}
	if c.Query.MaxLimit < c.Query.DefaultLimit {
		errs = append(errs, fmt.Errorf("QUERY_MAX_LIMIT (%d) must be >= QUERY_DEFAULT_LIMIT (%d)", c.Query.MaxLimit, c.Query.DefaultLimit))
	}
	return errors.Join(errs...)
}

// Validate validates the ingestor configuration
func (c *IngestorConfig) Validate() error {
	var errs []error
	errs = append(errs, c.Store.validate())
	if c.MQTT.BrokerHost == "" && !c.MQTT.Embedded {
		errs = append(errs, fmt.Errorf("BROKER_HOST is required"))
	}
	if len(c.MQTT.Topics) == 0 {
		errs = append(errs, fmt.Errorf("at least one MQTT topic is required"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_WORKERS must be positive"))
	}
	if c.Ingest.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("INGEST_QUEUE_SIZE must be positive"))
	}
	if c.Ingest.WriteMode != WriteModeSync && c.Ingest.WriteMode != WriteModeAsync {
		errs = append(errs, fmt.Errorf("INGEST_WRITE_MODE must be %q or %q", WriteModeSync, WriteModeAsync))
	}
	if len(c.Ingest.TopicFragments) == 0 {
		errs = append(errs, fmt.Errorf("DEVICE_TOPIC_FRAGMENTS must not be empty"))
	}
	if c.Notifier.Topic != "" && c.Notifier.Every <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_EVERY must be positive"))
	}
	return errors.Join(errs...)
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case DriverMongo:
		if s.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo store")
		}
	case DriverPostgres:
		if s.User == "" {
			return fmt.Errorf("POSTGRES_USER is required for the postgres store")
		}
		if s.Password == "" {
			return fmt.Errorf("POSTGRES_PASSWORD is required for the postgres store")
		}
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", s.Driver)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string
func (s StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		s.Host, s.Port, s.User, s.Password, s.DBName, s.SSLMode)
}

// BrokerURL returns the MQTT broker URL
func (m MQTTConfig) BrokerURL() string {
	scheme := m.Protocol
	switch scheme {
	case "", "mqtt", "tcp":
		scheme = "tcp"
		if m.UseTLS {
			scheme = "ssl"
		}
	case "mqtts", "tcps", "tls":
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.BrokerHost, m.BrokerPort)
}

// SecureScheme reports whether the broker URL needs a TLS config
func (m MQTTConfig) SecureScheme() bool {
	switch m.Protocol {
	case "mqtts", "tcps", "tls", "ssl", "wss":
		return true
	}
	return m.UseTLS
}

// envReader reads typed values from the environment and collects parse errors
type envReader struct {
	errs []error
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

func (e *envReader) str(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (e *envReader) integer(key string, defaultValue int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return i
}

func (e *envReader) boolean(key string, defaultValue bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %q (expected true/false or 1/0)", key, value))
	return defaultValue
}

func (e *envReader) duration(key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return d
}

// list parses a comma-separated value, dropping empty items
func (e *envReader) list(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// keyValues parses "a=b,c=d" pairs. Keys are lower-cased.
func (e *envReader) keyValues(key string, defaultValue map[string]string) map[string]string {
	items := e.list(key, nil)
	if items == nil {
		out := make(map[string]string, len(defaultValue))
		for k, v := range defaultValue {
			out[k] = v
		}
		return out
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, "=")
		k, v = strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			e.errs = append(e.errs, fmt.Errorf("invalid %s entry %q (expected fragment=deviceType)", key, item))
			continue
		}
		out[k] = v
	}
	return out
}
