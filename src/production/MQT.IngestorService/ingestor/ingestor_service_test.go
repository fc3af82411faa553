package mqtingestor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
)

type recordingAppender struct {
	mu       sync.Mutex
	readings []mqtmodels.DeviceReading
	err      error
	panicMsg string
}

func (a *recordingAppender) Append(_ context.Context, r *mqtmodels.DeviceReading) (string, error) {
	if a.panicMsg != "" {
		panic(a.panicMsg)
	}
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readings = append(a.readings, *r)
	return fmt.Sprintf("r%d", len(a.readings)), nil
}

func (a *recordingAppender) all() []mqtmodels.DeviceReading {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]mqtmodels.DeviceReading(nil), a.readings...)
}

func testIngestorConfig() *config.IngestorConfig {
	return &config.IngestorConfig{
		MQTT: config.MQTTConfig{
			BrokerHost:           "127.0.0.1",
			BrokerPort:           1883,
			Topics:               []string{"bike/+/speed", "bike/+/cadence"},
			QoS:                  1,
			ClientID:             "ingestor-test",
			KeepAlive:            30 * time.Second,
			PingTimeout:          5 * time.Second,
			ConnectRetryInterval: 100 * time.Millisecond,
			ConnectTimeout:       5 * time.Second,
		},
		Ingest: config.IngestConfig{
			Workers:   4,
			QueueSize: 64,
		},
	}
}

func newTestIngestor(t *testing.T, app ReadingAppender) (*Ingestor, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	i := New(testIngestorConfig(), newTestClassifier(t, nil), app, logger.Nop(), m)
	return i, m
}

func TestHandlePersistsReading(t *testing.T) {
	app := &recordingAppender{}
	i, m := newTestIngestor(t, app)

	require.NoError(t, i.handle(context.Background(), "bike/7/speed", []byte(`{"value":30,"timestamp":1695000000}`)))

	got := app.all()
	require.Len(t, got, 1)
	assert.Equal(t, mqtmodels.DeviceTypeSpeed, got[0].DeviceType)
	assert.Equal(t, 30.0, got[0].Value)
	assert.Equal(t, "7", got[0].BikeName)
	assert.Equal(t, time.Unix(1695000000, 0).UTC(), got[0].ReportedAt)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("speed")))
}

func TestHandleDrops(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
		appErr  error
		wantErr error
		reason  string
	}{
		{"unknown fragment", "bike/7/temperature", `{"value":21}`, nil, ErrClassification, metrics.ReasonClassification},
		{"malformed", "bike/7/speed", `{"value":"fast"}`, nil, ErrMalformedPayload, metrics.ReasonMalformed},
		{"store failure", "bike/7/speed", `12`, fmt.Errorf("%w: boom", ErrPersist), ErrPersist, metrics.ReasonPersist},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &recordingAppender{err: tt.appErr}
			i, m := newTestIngestor(t, app)

			err := i.handle(context.Background(), tt.topic, []byte(tt.payload))
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, app.all())
			assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(tt.reason)))
		})
	}
}

func TestHandleUnclassifiedCountsReceived(t *testing.T) {
	i, m := newTestIngestor(t, &recordingAppender{})

	_ = i.handle(context.Background(), "bike/7/temperature", []byte("1"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("unclassified")))
}

func TestHandleRecoversFromPanic(t *testing.T) {
	i, m := newTestIngestor(t, &recordingAppender{panicMsg: "nil map"})

	var err error
	require.NotPanics(t, func() {
		err = i.handle(context.Background(), "bike/7/speed", []byte("1"))
	})
	assert.ErrorContains(t, err, "nil map")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.ReasonPanic)))
}

func TestWorkersPreservePerTopicOrder(t *testing.T) {
	app := &recordingAppender{}
	i, _ := newTestIngestor(t, app)
	i.startWorkers(context.Background())

	topics := []string{"bike/1/speed", "bike/2/speed", "bike/3/cadence", "bike/4/cadence"}
	const perTopic = 50
	for n := 0; n < perTopic; n++ {
		for _, topic := range topics {
			i.Enqueue(topic, []byte(fmt.Sprint(n)))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	i.Stop(ctx)

	got := app.all()
	require.Len(t, got, perTopic*len(topics))

	last := map[string]float64{}
	for _, r := range got {
		key := r.BikeName + string(r.DeviceType)
		if prev, ok := last[key]; ok {
			assert.Greater(t, r.Value, prev, "out of order for %s", key)
		}
		last[key] = r.Value
	}
}

func TestEnqueueAfterStopDrops(t *testing.T) {
	app := &recordingAppender{}
	i, m := newTestIngestor(t, app)
	i.startWorkers(context.Background())
	i.Stop(context.Background())

	i.Enqueue("bike/1/speed", []byte("1"))
	assert.Empty(t, app.all())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.ReasonQueueClosed)))

	// second Stop is a no-op
	i.Stop(context.Background())
	assert.Equal(t, StateDisconnected, i.State())
}

func TestShardForIsStable(t *testing.T) {
	for _, topic := range []string{"bike/1/speed", "bike/2/power", "", "a/very/long/topic/name"} {
		first := shardFor(topic, 8)
		assert.GreaterOrEqual(t, first, 0)
		assert.Less(t, first, 8)
		assert.Equal(t, first, shardFor(topic, 8))
	}
}

func TestSubscriptionFilters(t *testing.T) {
	i, _ := newTestIngestor(t, &recordingAppender{})
	assert.Equal(t, map[string]byte{"bike/+/speed": 1, "bike/+/cadence": 1}, i.subscriptionFilters())

	i.cfg.MQTT.SharedGroup = "ingestors"
	assert.Equal(t, map[string]byte{
		"$share/ingestors/bike/+/speed":   1,
		"$share/ingestors/bike/+/cadence": 1,
	}, i.subscriptionFilters())
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "subscribed", StateSubscribed.String())
}

func TestPublisherFailsWithoutConnection(t *testing.T) {
	i, _ := newTestIngestor(t, &recordingAppender{})
	err := i.Publisher().Publish("dashboard/refresh", []byte("{}"))
	assert.Error(t, err)
	assert.False(t, i.IsConnected())
}

func TestStartFailsWhenBrokerUnreachable(t *testing.T) {
	i, _ := newTestIngestor(t, &recordingAppender{})
	i.cfg.MQTT.BrokerPort = 1
	i.cfg.MQTT.ConnectTimeout = 300 * time.Millisecond

	err := i.Start(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateDisconnected, i.State())
	i.Stop(context.Background())
}

func TestHandleIgnoresOwnOutputTopics(t *testing.T) {
	app := &recordingAppender{}
	cfg := testIngestorConfig()
	cfg.MQTT.Topics = []string{"#"}
	cfg.MQTT.ErrorTopicEnabled = true
	cfg.Notifier.Topic = "dashboard/refresh"
	m := metrics.New()
	i := New(cfg, newTestClassifier(t, nil), app, logger.Nop(), m)

	for _, topic := range []string{ErrorTopicPrefix + "7/temperature", ErrorTopicPrefix + "unknown/speed", "dashboard/refresh"} {
		require.NoError(t, i.handle(context.Background(), topic, []byte(`{"error_type":"classification"}`)), topic)
	}

	assert.Empty(t, app.all())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("unclassified")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.MessagesDropped.WithLabelValues(metrics.ReasonClassification)))

	// sensor topics still flow
	require.NoError(t, i.handle(context.Background(), "bike/7/speed", []byte("12")))
	assert.Len(t, app.all(), 1)
}

func TestClientIDDefaultsToUniqueSuffix(t *testing.T) {
	cfg := testIngestorConfig()
	cfg.MQTT.ClientID = ""
	i := New(cfg, newTestClassifier(t, nil), &recordingAppender{}, logger.Nop(), metrics.New())

	a, err := i.clientOptions()
	require.NoError(t, err)
	b, err := i.clientOptions()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a.ClientID, "sensors-ingestor-"), a.ClientID)
	assert.NotEqual(t, a.ClientID, b.ClientID)

	cfg.MQTT.ClientID = "fixed"
	c, err := i.clientOptions()
	require.NoError(t, err)
	assert.Equal(t, "fixed", c.ClientID)
}
