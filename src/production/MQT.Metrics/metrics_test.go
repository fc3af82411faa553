package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsolatedRegistries(t *testing.T) {
	a := New()
	b := New()

	a.MessagesDropped.WithLabelValues(ReasonMalformed).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.MessagesDropped.WithLabelValues(ReasonMalformed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MessagesDropped.WithLabelValues(ReasonMalformed)))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.ReadingsPersisted.WithLabelValues("speed").Add(3)
	m.ConnectionState.Set(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ingest_readings_persisted_total{device_type="speed"} 3`)
	assert.Contains(t, string(body), "ingest_mqtt_connection_state 3")
}
