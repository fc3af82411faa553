package implementation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type readingDocument struct {
	ID         primitive.ObjectID     `bson:"_id,omitempty"`
	BikeID     string                 `bson:"bikeId,omitempty"`
	DeviceID   string                 `bson:"deviceId,omitempty"`
	WorkoutID  string                 `bson:"workoutId,omitempty"`
	UserID     string                 `bson:"userId,omitempty"`
	DeviceName string                 `bson:"deviceName,omitempty"`
	BikeName   string                 `bson:"bikeName,omitempty"`
	DeviceType string                 `bson:"deviceType"`
	UnitName   string                 `bson:"unitName,omitempty"`
	Value      float64                `bson:"value"`
	Metadata   map[string]interface{} `bson:"metadata"`
	ReportedAt time.Time              `bson:"reportedAt"`
	CreatedAt  time.Time              `bson:"createdAt"`
	UpdatedAt  time.Time              `bson:"updatedAt"`
}

func toReadingDocument(r *mqtmodels.DeviceReading) readingDocument {
	return readingDocument{
		BikeID:     r.BikeID,
		DeviceID:   r.DeviceID,
		WorkoutID:  r.WorkoutID,
		UserID:     r.UserID,
		DeviceName: r.DeviceName,
		BikeName:   r.BikeName,
		DeviceType: string(r.DeviceType),
		UnitName:   r.UnitName,
		Value:      r.Value,
		Metadata:   ensureMetaNotNull(r.Metadata),
		ReportedAt: r.ReportedAt.UTC(),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (d readingDocument) toModel() mqtmodels.DeviceReading {
	return mqtmodels.DeviceReading{
		ID:         d.ID.Hex(),
		BikeID:     d.BikeID,
		DeviceID:   d.DeviceID,
		WorkoutID:  d.WorkoutID,
		UserID:     d.UserID,
		DeviceName: d.DeviceName,
		BikeName:   d.BikeName,
		DeviceType: mqtmodels.DeviceType(d.DeviceType),
		UnitName:   d.UnitName,
		Value:      d.Value,
		Metadata:   d.Metadata,
		ReportedAt: d.ReportedAt.UTC(),
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
}

type MongoReadingRepository struct {
	coll *mongo.Collection
}

func NewMongoReadingRepository(coll *mongo.Collection) *MongoReadingRepository {
	return &MongoReadingRepository{coll: coll}
}

func (r *MongoReadingRepository) InsertReading(ctx context.Context, rd *mqtmodels.DeviceReading) (string, error) {
	now := time.Now().UTC()
	rd.CreatedAt, rd.UpdatedAt = now, now

	doc := toReadingDocument(rd)
	doc.ID = primitive.NewObjectID()
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert reading: %w", err)
	}
	rd.ID = doc.ID.Hex()
	return rd.ID, nil
}

func (r *MongoReadingRepository) FindLatest(ctx context.Context, filter mqtmodels.ReadingFilter) (*mqtmodels.DeviceReading, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "reportedAt", Value: -1}})

	var doc readingDocument
	err := r.coll.FindOne(ctx, latestFilter(filter), opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest reading: %w", err)
	}
	reading := doc.toModel()
	return &reading, nil
}

func (r *MongoReadingRepository) FindMany(ctx context.Context, q mqtmodels.ReadingsQuery) ([]mqtmodels.DeviceReading, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "reportedAt", Value: -1}}).
		SetLimit(int64(q.Limit))

	cur, err := r.coll.Find(ctx, manyFilter(q), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find readings: %w", err)
	}
	defer cur.Close(ctx)

	readings := make([]mqtmodels.DeviceReading, 0)
	for cur.Next(ctx) {
		var doc readingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode reading: %w", err)
		}
		readings = append(readings, doc.toModel())
	}
	return readings, cur.Err()
}

func (r *MongoReadingRepository) CountReadings(ctx context.Context) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{})
}

func (r *MongoReadingRepository) CountByDeviceType(ctx context.Context) (map[mqtmodels.DeviceType]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$deviceType"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate device types: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[mqtmodels.DeviceType]int64)
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode device type count: %w", err)
		}
		counts[mqtmodels.DeviceType(row.ID)] = row.Count
	}
	return counts, cur.Err()
}

// latestFilter builds the FindLatest query. Empty fields add no constraint.
func latestFilter(f mqtmodels.ReadingFilter) bson.M {
	filter := bson.M{}
	if f.DeviceType != "" {
		filter["deviceType"] = string(f.DeviceType)
	}
	if f.BikeName != "" {
		filter["bikeName"] = f.BikeName
	}
	if tr := timeRange(f.After, f.Before); tr != nil {
		filter["reportedAt"] = tr
	}
	return filter
}

// manyFilter builds the FindMany query
func manyFilter(q mqtmodels.ReadingsQuery) bson.M {
	filter := bson.M{}
	if tr := timeRange(q.After, q.Before); tr != nil {
		filter["reportedAt"] = tr
	}
	if q.Keyword != "" {
		re := primitive.Regex{Pattern: regexp.QuoteMeta(q.Keyword), Options: "i"}
		filter["$or"] = bson.A{
			bson.M{"deviceName": re},
			bson.M{"bikeName": re},
			bson.M{"unitName": re},
		}
	}
	if q.Testing {
		filter["metadata.testing"] = true
	}
	if len(q.DeviceTypes) > 0 {
		types := make(bson.A, 0, len(q.DeviceTypes))
		for _, t := range q.DeviceTypes {
			types = append(types, string(t))
		}
		filter["deviceType"] = bson.M{"$in": types}
	}
	if q.ValueRange != nil {
		filter["value"] = bson.M{"$gte": q.ValueRange.Min, "$lte": q.ValueRange.Max}
	}
	if q.BikeName != "" {
		filter["bikeName"] = q.BikeName
	}
	if q.BikeID != "" {
		filter["bikeId"] = q.BikeID
	}
	return filter
}

func timeRange(after, before *time.Time) bson.M {
	if after == nil && before == nil {
		return nil
	}
	tr := bson.M{}
	if before != nil {
		tr["$lte"] = before.UTC()
	}
	if after != nil {
		tr["$gte"] = after.UTC()
	}
	return tr
}
