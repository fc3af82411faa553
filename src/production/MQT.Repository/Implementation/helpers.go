package implementation

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
)

// sqliteTimeLayout is fixed width so stored strings sort chronologically
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// ensureMetaNotNull ensures Meta is not nil to prevent null JSON issues
func ensureMetaNotNull(meta map[string]interface{}) map[string]interface{} {
	if meta == nil {
		return make(map[string]interface{})
	}
	return meta
}

// newPlaceholderGenerator yields $1, $2... for postgres and ? otherwise
func newPlaceholderGenerator(driverName string) func() string {
	if driverName == config.DriverPostgres {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}

// likeContains builds a case-insensitive LIKE pattern, escaped with '!'
func likeContains(keyword string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return "%" + r.Replace(strings.ToLower(keyword)) + "%"
}

// timeArg encodes t for the given driver
func timeArg(driverName string, t time.Time) interface{} {
	if driverName == config.DriverSQLite {
		return t.UTC().Format(sqliteTimeLayout)
	}
	return t.UTC()
}

// timeValue scans TIMESTAMPTZ columns and SQLite text timestamps alike
type timeValue struct {
	time.Time
}

func (t *timeValue) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
	return nil
}

func (t *timeValue) parse(s string) error {
	parsed, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return fmt.Errorf("invalid stored time %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

func (t timeValue) Value() (driver.Value, error) {
	return t.Time, nil
}
