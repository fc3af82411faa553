package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.ApiService/health"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	logger "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Logger"
	metrics "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Metrics"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	implementation "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Implementation"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var base = time.Date(2023, 9, 18, 1, 20, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*gin.Engine, interfaces.Store) {
	t.Helper()
	db, err := implementation.ConnectSQLite(":memory:")
	require.NoError(t, err)
	store := implementation.NewSQLStore(db, config.DriverSQLite)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	cfg := &config.Config{
		Store: config.StoreConfig{Driver: config.DriverSQLite, QueryTimeout: time.Second},
		Query: config.QueryConfig{DefaultLimit: 2, MaxLimit: 3},
		CORS:  config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "PUT"}},
	}
	return NewRouter(cfg, store, health.NewHealthChecker(store), metrics.New(), logger.Nop()), store
}

func seedReadings(t *testing.T, store interfaces.Store) {
	t.Helper()
	readings := []mqtmodels.DeviceReading{
		{DeviceType: "speed", BikeName: "7", DeviceName: "Wahoo Speed", UnitName: "km/h", Value: 30, ReportedAt: base},
		{DeviceType: "speed", BikeName: "7", DeviceName: "Wahoo Speed", UnitName: "km/h", Value: 32, ReportedAt: base.Add(time.Minute)},
		{DeviceType: "power", BikeName: "7", DeviceName: "Kickr", UnitName: "W", Value: 250, ReportedAt: base.Add(2 * time.Minute),
			Metadata: map[string]interface{}{"testing": true}},
		{DeviceType: "cadence", BikeName: "5", Value: 13, ReportedAt: base.Add(3 * time.Minute)},
	}
	for i := range readings {
		_, err := store.Readings().InsertReading(context.Background(), &readings[i])
		require.NoError(t, err)
	}
}

func doRequest(t *testing.T, router *gin.Engine, method, target string, body []byte) (int, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" && rec.Code != http.StatusNoContent {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec.Code, out
}

func TestGetOneDeviceData(t *testing.T) {
	router, store := newTestRouter(t)

	code, body := doRequest(t, router, http.MethodGet, "/device-data", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "deviceData")
	assert.Nil(t, body["deviceData"])

	seedReadings(t, store)

	code, body = doRequest(t, router, http.MethodGet, "/device-data?deviceType=speed&bikeName=7", nil)
	require.Equal(t, http.StatusOK, code)
	reading := body["deviceData"].(map[string]interface{})
	assert.EqualValues(t, 32, reading["value"])
	assert.Equal(t, "speed", reading["deviceType"])

	q := url.Values{"deviceType": {"speed"}, "before": {base.Add(30 * time.Second).Format(time.RFC3339)}}
	code, body = doRequest(t, router, http.MethodGet, "/device-data?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 30, body["deviceData"].(map[string]interface{})["value"])
}

func TestGetOneRejectsBadQuery(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, target := range []string{
		"/device-data?deviceType=warp",
		"/device-data?before=yesterday",
		"/device-data?after=1695000100&before=1695000000",
	} {
		code, body := doRequest(t, router, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestGetManyDeviceData(t *testing.T) {
	router, store := newTestRouter(t)
	seedReadings(t, store)

	tests := []struct {
		name   string
		query  string
		values []float64
	}{
		{"default limit", "", []float64{13, 250}},
		{"limit ceiling", "limit=50", []float64{13, 250, 32}},
		{"types", "deviceTypes[]=speed&deviceTypes[]=power&limit=3", []float64{250, 32, 30}},
		{"value range", "valueRange[]=31&valueRange[]=300&limit=3", []float64{250, 32}},
		{"keyword", "keyword=wahoo&limit=3", []float64{32, 30}},
		{"testing", "testing=true", []float64{250}},
		{"bike", "bikeName=5", []float64{13}},
		{"range", "after=" + url.QueryEscape(base.Format(time.RFC3339)) + "&before=" + url.QueryEscape(base.Add(time.Minute).Format(time.RFC3339)), []float64{32, 30}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doRequest(t, router, http.MethodGet, "/device-data/many?"+tt.query, nil)
			require.Equal(t, http.StatusOK, code)
			assert.EqualValues(t, len(tt.values), body["total"])

			items := body["deviceData"].([]interface{})
			require.Len(t, items, len(tt.values))
			for i, v := range tt.values {
				assert.EqualValues(t, v, items[i].(map[string]interface{})["value"])
			}
		})
	}
}

func TestGetManyRejectsBadQuery(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, target := range []string{
		"/device-data/many?deviceTypes[]=warp",
		"/device-data/many?valueRange[]=1",
		"/device-data/many?valueRange[]=9&valueRange[]=1",
		"/device-data/many?testing=maybe",
		"/device-data/many?limit=ten",
		"/device-data/many?before=3e11",
		"/device-data/many?after=253402300800",
	} {
		code, body := doRequest(t, router, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.NotEmpty(t, body["error"], target)
	}
}

func TestAnalyticsRoutes(t *testing.T) {
	router, store := newTestRouter(t)
	seedReadings(t, store)

	code, body := doRequest(t, router, http.MethodGet, "/data-analytics/total-count", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["bikes"])
	assert.EqualValues(t, 4, body["deviceData"])

	code, body = doRequest(t, router, http.MethodGet, "/data-analytics/device-data/total-count", nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["speed"])
	assert.EqualValues(t, 0, body["fan"])
	assert.EqualValues(t, 4, body["total"])
}

func TestReferenceRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	code, body := doRequest(t, router, http.MethodPut, "/bikes", []byte(`{"bike":{"name":"bike-7","mqttTopicPrefix":"bike/7"}}`))
	require.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, body["bike"].(map[string]interface{})["id"])

	code, _ = doRequest(t, router, http.MethodPut, "/devices", []byte(`{"device":{"name":"kickr","deviceType":"warp"}}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequest(t, router, http.MethodPut, "/devices", []byte(`{"device":{"name":"kickr","deviceType":"Power","mqttTopicDeviceName":"kickr"}}`))
	require.Equal(t, http.StatusOK, code)

	code, _ = doRequest(t, router, http.MethodPut, "/bikes", []byte(`{"bike":{}}`))
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = doRequest(t, router, http.MethodGet, "/devices", nil)
	require.Equal(t, http.StatusOK, code)
	devices := body["devices"].([]interface{})
	require.Len(t, devices, 1)
	assert.Equal(t, "power", devices[0].(map[string]interface{})["deviceType"])

	code, body = doRequest(t, router, http.MethodGet, "/bikes", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["bikes"].([]interface{}), 1)
}

func TestHealthRoutes(t *testing.T) {
	router, store := newTestRouter(t)

	code, body := doRequest(t, router, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = doRequest(t, router, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")

	require.NoError(t, store.Close(context.Background()))
	code, body = doRequest(t, router, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}
