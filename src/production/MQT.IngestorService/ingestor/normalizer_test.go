package mqtingestor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	n := NewNormalizer(logger.Nop())
	n.now = func() time.Time { return fixedNow }
	return n
}

func classify(t *testing.T, topic string) Classification {
	t.Helper()
	c, err := newTestClassifier(t, nil).Classify(topic)
	require.NoError(t, err)
	return c
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, p parsedPayload)
	}{
		{"object", `{"value": 1}`, func(t *testing.T, p parsedPayload) {
			assert.IsType(t, jsonPayload{}, p)
		}},
		{"bare", " 42.5\n", func(t *testing.T, p parsedPayload) {
			assert.Equal(t, bareNumber{value: 42.5}, p)
		}},
		{"quoted", `"13"`, func(t *testing.T, p parsedPayload) {
			assert.Equal(t, bareNumber{value: 13}, p)
		}},
		{"negative exponent", "-1.5e2", func(t *testing.T, p parsedPayload) {
			assert.Equal(t, bareNumber{value: -150}, p)
		}},
		{"empty", "   ", func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"text", "fast", func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"nan", "NaN", func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"inf", "+Inf", func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"broken object", `{"value":`, func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"two objects", `{"value":1}{"value":2}`, func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
		{"array", `[1,2]`, func(t *testing.T, p parsedPayload) {
			assert.IsType(t, invalidPayload{}, p)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, parsePayload([]byte(tt.raw)))
		})
	}
}

func TestNormalizeNumericStringValue(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize("bike/7/speed", classify(t, "bike/7/speed"), []byte(`{"value":"42.5","unitName":"km/h"}`))
	require.NoError(t, err)
	assert.Equal(t, 42.5, r.Value)
	assert.Equal(t, "km/h", r.UnitName)
	assert.Equal(t, mqtmodels.DeviceTypeSpeed, r.DeviceType)
	assert.Equal(t, "7", r.BikeName)
	assert.Equal(t, fixedNow, r.ReportedAt)
}

func TestNormalizeBareQuotedNumber(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize("bike/5/cadence", classify(t, "bike/5/cadence"), []byte(`"13"`))
	require.NoError(t, err)
	assert.Equal(t, 13.0, r.Value)
	assert.Equal(t, mqtmodels.DeviceTypeCadence, r.DeviceType)
	assert.Equal(t, "5", r.BikeName)
	assert.Empty(t, r.UnitName)
	assert.Empty(t, r.BikeID)
	assert.Equal(t, fixedNow, r.ReportedAt)
}

func TestNormalizeEpochTimestamp(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize("bike/7/speed", classify(t, "bike/7/speed"), []byte(`{"value":30,"timestamp":1695000000}`))
	require.NoError(t, err)
	assert.Equal(t, 30.0, r.Value)
	assert.Equal(t, time.Unix(1695000000, 0).UTC(), r.ReportedAt)
	assert.Equal(t, "2023-09-18T01:20:00Z", r.ReportedAt.Format(time.RFC3339))
}

func TestNormalizeReportedAtPrecedence(t *testing.T) {
	n := newTestNormalizer()
	c := classify(t, "bike/1/power")

	tests := []struct {
		name string
		body string
		want time.Time
	}{
		{"reportedAt wins", `{"value":1,"reportedAt":"2024-01-02T03:04:05Z","timestamp":1695000000}`,
			time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
		{"timestamp fallback", `{"value":1,"timestamp":"2024-01-02T03:04:05.250+02:00"}`,
			time.Date(2024, 1, 2, 1, 4, 5, 250000000, time.UTC)},
		{"numeric string", `{"value":1,"timestamp":"1695000000.5"}`,
			time.Unix(1695000000, 500000000).UTC()},
		{"bad reportedAt falls through", `{"value":1,"reportedAt":"yesterday","timestamp":1695000000}`,
			time.Unix(1695000000, 0).UTC()},
		{"all bad uses now", `{"value":1,"reportedAt":"yesterday","timestamp":-5}`, fixedNow},
		{"null ignored", `{"value":1,"reportedAt":null}`, fixedNow},
		{"absent uses now", `{"value":1}`, fixedNow},
		{"far future epoch skipped", `{"value":1,"reportedAt":3e11,"timestamp":1695000000}`,
			time.Unix(1695000000, 0).UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := n.Normalize("bike/1/power", c, []byte(tt.body))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(r.ReportedAt), "got %s want %s", r.ReportedAt, tt.want)
		})
	}
}

func TestNormalizeMalformed(t *testing.T) {
	n := newTestNormalizer()
	c := classify(t, "bike/2/incline")

	for _, body := range []string{
		`{"unitName":"%"}`,
		`{"value":"steep"}`,
		`{"value":true}`,
		`{"value":{"x":1}}`,
		`NaN`,
		`"Infinity"`,
		``,
		`not json`,
	} {
		t.Run(body, func(t *testing.T) {
			r, err := n.Normalize("bike/2/incline", c, []byte(body))
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.Nil(t, r)

			// same input, same verdict
			_, again := n.Normalize("bike/2/incline", c, []byte(body))
			assert.ErrorIs(t, again, ErrMalformedPayload)
		})
	}
}

func TestNormalizeIgnoresDeviceTypeInBody(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize("bike/9/fan", classify(t, "bike/9/fan"), []byte(`{"value":2,"deviceType":"speed"}`))
	require.NoError(t, err)
	assert.Equal(t, mqtmodels.DeviceTypeFan, r.DeviceType)
}

func TestNormalizeMetadata(t *testing.T) {
	n := newTestNormalizer()

	r, err := n.Normalize("bike/4/heartrate", classify(t, "bike/4/heartrate"),
		[]byte(`{"value":120,"metadata":{"testing":true,"deviceName":"strap","zone":3,"ratio":0.5}}`))
	require.NoError(t, err)
	assert.True(t, r.IsTesting())
	assert.Equal(t, "strap", r.DeviceName)
	assert.Equal(t, int64(3), r.Metadata["zone"])
	assert.Equal(t, 0.5, r.Metadata["ratio"])
}

func TestNormalizeEnrichesFromDirectory(t *testing.T) {
	n := newTestNormalizer()
	c := classify(t, "bike/3/power")
	c.Bike = &mqtmodels.Bike{ID: "bike-id", Name: "Studio 3"}
	c.Device = &mqtmodels.Device{ID: "dev-id", Name: "Kickr", UnitName: "W"}

	r, err := n.Normalize("bike/3/power", c, []byte(`250`))
	require.NoError(t, err)
	assert.Equal(t, "bike-id", r.BikeID)
	assert.Equal(t, "Studio 3", r.BikeName)
	assert.Equal(t, "dev-id", r.DeviceID)
	assert.Equal(t, "Kickr", r.DeviceName)
	assert.Empty(t, r.UnitName, "bare values stay unitless")

	r, err = n.Normalize("bike/3/power", c, []byte(`{"value":250}`))
	require.NoError(t, err)
	assert.Equal(t, "W", r.UnitName)

	// body values are kept over directory values
	r, err = n.Normalize("bike/3/power", c, []byte(`{"value":250,"bikeName":"custom","unitName":"kW"}`))
	require.NoError(t, err)
	assert.Equal(t, "custom", r.BikeName)
	assert.Equal(t, "kW", r.UnitName)
	assert.Equal(t, "bike-id", r.BikeID)
}

func TestEpochSecondsRange(t *testing.T) {
	_, err := epochSeconds(-1)
	assert.Error(t, err)
	_, err = epochSeconds(mqtmodels.MaxEpochSeconds + 1)
	assert.Error(t, err)

	got, err := epochSeconds(0)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 0).UTC(), got)
}
