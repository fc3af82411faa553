package implementation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := ConnectSQLite(":memory:")
	require.NoError(t, err)

	store := NewSQLStore(db, config.DriverSQLite)
	require.NoError(t, store.Init(context.Background()))
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store
}

func insert(t *testing.T, store *SQLStore, r mqtmodels.DeviceReading) mqtmodels.DeviceReading {
	t.Helper()
	_, err := store.Readings().InsertReading(context.Background(), &r)
	require.NoError(t, err)
	return r
}

var base = time.Date(2023, 9, 18, 1, 20, 0, 0, time.UTC)

func TestInsertReadingRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	in := mqtmodels.DeviceReading{
		BikeName:   "7",
		DeviceName: "wahoo-speed",
		DeviceType: mqtmodels.DeviceTypeSpeed,
		UnitName:   "km/h",
		Value:      30,
		Metadata:   map[string]interface{}{"deviceName": "wahoo-speed"},
		ReportedAt: base,
	}
	id, err := store.Readings().InsertReading(ctx, &in)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, id, in.ID)
	assert.False(t, in.CreatedAt.IsZero())

	got, err := store.Readings().FindLatest(ctx, mqtmodels.ReadingFilter{
		DeviceType: mqtmodels.DeviceTypeSpeed,
		BikeName:   "7",
	})
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, 30.0, got.Value)
	assert.Equal(t, "km/h", got.UnitName)
	assert.True(t, base.Equal(got.ReportedAt))
	assert.Equal(t, "wahoo-speed", got.Metadata["deviceName"])
}

func TestFindLatestNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Readings().FindLatest(context.Background(), mqtmodels.ReadingFilter{DeviceType: mqtmodels.DeviceTypeFan})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestFindLatestPicksMostRecentInRange(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 5; i++ {
		insert(t, store, mqtmodels.DeviceReading{
			BikeName:   "1",
			DeviceType: mqtmodels.DeviceTypePower,
			Value:      float64(i),
			ReportedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	before := base.Add(2 * time.Minute)
	got, err := store.Readings().FindLatest(context.Background(), mqtmodels.ReadingFilter{
		DeviceType: mqtmodels.DeviceTypePower,
		Before:     &before,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, got.Value, "before bound is inclusive")
}

func TestFindManyInclusiveRangeSortedDesc(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 10; i++ {
		insert(t, store, mqtmodels.DeviceReading{
			BikeName:   "3",
			DeviceType: mqtmodels.DeviceTypeCadence,
			Value:      float64(i),
			ReportedAt: base.Add(time.Duration(i) * time.Second),
		})
	}

	after := base.Add(2 * time.Second)
	before := base.Add(6 * time.Second)
	got, err := store.Readings().FindMany(context.Background(), mqtmodels.ReadingsQuery{
		After:  &after,
		Before: &before,
		Limit:  100,
	})
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, r := range got {
		assert.Equal(t, float64(6-i), r.Value)
		assert.False(t, r.ReportedAt.Before(after))
		assert.False(t, r.ReportedAt.After(before))
	}
}

func TestFindManyFilters(t *testing.T) {
	store := newTestStore(t)
	insert(t, store, mqtmodels.DeviceReading{BikeName: "bike-1", BikeID: "b1", DeviceName: "Wahoo_KICKR", DeviceType: mqtmodels.DeviceTypePower, UnitName: "W", Value: 250, ReportedAt: base})
	insert(t, store, mqtmodels.DeviceReading{BikeName: "bike-2", BikeID: "b2", DeviceName: "polar", DeviceType: mqtmodels.DeviceTypeHeartRate, UnitName: "bpm", Value: 140, ReportedAt: base.Add(time.Second)})
	insert(t, store, mqtmodels.DeviceReading{BikeName: "bike-2", BikeID: "b2", DeviceName: "fan 100%", DeviceType: mqtmodels.DeviceTypeFan, Value: 3, ReportedAt: base.Add(2 * time.Second),
		Metadata: map[string]interface{}{"testing": true}})

	tests := []struct {
		name  string
		query mqtmodels.ReadingsQuery
		want  []float64
	}{
		{"no filter", mqtmodels.ReadingsQuery{}, []float64{3, 140, 250}},
		{"keyword is case-insensitive", mqtmodels.ReadingsQuery{Keyword: "kickr"}, []float64{250}},
		{"keyword matches unit", mqtmodels.ReadingsQuery{Keyword: "BPM"}, []float64{140}},
		{"keyword is literal", mqtmodels.ReadingsQuery{Keyword: "100%"}, []float64{3}},
		{"keyword underscore is literal", mqtmodels.ReadingsQuery{Keyword: "o_k"}, []float64{250}},
		{"testing", mqtmodels.ReadingsQuery{Testing: true}, []float64{3}},
		{"device types", mqtmodels.ReadingsQuery{DeviceTypes: []mqtmodels.DeviceType{mqtmodels.DeviceTypePower, mqtmodels.DeviceTypeFan}}, []float64{3, 250}},
		{"value range inclusive", mqtmodels.ReadingsQuery{ValueRange: &mqtmodels.ValueRange{Min: 140, Max: 250}}, []float64{140, 250}},
		{"bike name", mqtmodels.ReadingsQuery{BikeName: "bike-2"}, []float64{3, 140}},
		{"bike id", mqtmodels.ReadingsQuery{BikeID: "b1"}, []float64{250}},
		{"limit", mqtmodels.ReadingsQuery{Limit: 1}, []float64{3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := tt.query
			if q.Limit == 0 {
				q.Limit = 100
			}
			got, err := store.Readings().FindMany(context.Background(), q)
			require.NoError(t, err)

			values := make([]float64, 0, len(got))
			for _, r := range got {
				values = append(values, r.Value)
			}
			assert.Equal(t, tt.want, values)
		})
	}
}

func TestCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	insert(t, store, mqtmodels.DeviceReading{DeviceType: mqtmodels.DeviceTypeSpeed, Value: 1, ReportedAt: base})
	insert(t, store, mqtmodels.DeviceReading{DeviceType: mqtmodels.DeviceTypeSpeed, Value: 2, ReportedAt: base})
	insert(t, store, mqtmodels.DeviceReading{DeviceType: mqtmodels.DeviceTypeIncline, Value: 3, ReportedAt: base})

	total, err := store.Readings().CountReadings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	byType, err := store.Readings().CountByDeviceType(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[mqtmodels.DeviceType]int64{
		mqtmodels.DeviceTypeSpeed:   2,
		mqtmodels.DeviceTypeIncline: 1,
	}, byType)
}

func TestReferenceUpsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	refs := store.References()

	bike := &mqtmodels.Bike{Name: "bike-7", MQTTTopicPrefix: "bike/7"}
	require.NoError(t, refs.UpsertBike(ctx, bike))
	firstID := bike.ID

	bike.Label = "Front row"
	require.NoError(t, refs.UpsertBike(ctx, bike))
	assert.Equal(t, firstID, bike.ID)

	device := &mqtmodels.Device{
		BikeID:              bike.ID,
		Name:                "wahoo-speed-7",
		DeviceType:          mqtmodels.DeviceTypeSpeed,
		UnitName:            "km/h",
		MQTTTopicDeviceName: "wahoo-speed",
	}
	require.NoError(t, refs.UpsertDevice(ctx, device))

	bikes, err := refs.ListBikes(ctx)
	require.NoError(t, err)
	require.Len(t, bikes, 1)
	assert.Equal(t, "Front row", bikes[0].Label)

	devices, err := refs.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, mqtmodels.DeviceTypeSpeed, devices[0].DeviceType)
	assert.Equal(t, bike.ID, devices[0].BikeID)
	assert.NotNil(t, devices[0].Metadata)

	nBikes, err := refs.CountBikes(ctx)
	require.NoError(t, err)
	nDevices, err := refs.CountDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), nBikes)
	assert.Equal(t, int64(1), nDevices)
}

func TestPlaceholderGenerator(t *testing.T) {
	pg := newPlaceholderGenerator(config.DriverPostgres)
	assert.Equal(t, "$1", pg())
	assert.Equal(t, "$2", pg())

	lite := newPlaceholderGenerator(config.DriverSQLite)
	assert.Equal(t, "?", lite())
	assert.Equal(t, "?", lite())
}

func TestLikeContains(t *testing.T) {
	assert.Equal(t, "%abc%", likeContains("ABC"))
	assert.Equal(t, "%50!%!_off!!%", likeContains("50%_off!"))
}
