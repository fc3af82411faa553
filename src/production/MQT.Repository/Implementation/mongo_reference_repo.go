package implementation

import (
	"context"
	"fmt"
	"time"

	mqtmodels "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type bikeDocument struct {
	ID                    primitive.ObjectID `bson:"_id,omitempty"`
	Name                  string             `bson:"name"`
	Label                 string             `bson:"label,omitempty"`
	Description           string             `bson:"description,omitempty"`
	MQTTTopicPrefix       string             `bson:"mqttTopicPrefix,omitempty"`
	MQTTReportTopicSuffix string             `bson:"mqttReportTopicSuffix,omitempty"`
	CreatedAt             time.Time          `bson:"createdAt"`
	UpdatedAt             time.Time          `bson:"updatedAt"`
}

type deviceDocument struct {
	ID                  primitive.ObjectID     `bson:"_id,omitempty"`
	BikeID              string                 `bson:"bikeId,omitempty"`
	Name                string                 `bson:"name"`
	Label               string                 `bson:"label,omitempty"`
	Description         string                 `bson:"description,omitempty"`
	DeviceType          string                 `bson:"deviceType"`
	UnitName            string                 `bson:"unitName"`
	MQTTTopicDeviceName string                 `bson:"mqttTopicDeviceName"`
	MacAddress          string                 `bson:"macAddress,omitempty"`
	BluetoothName       string                 `bson:"bluetoothName,omitempty"`
	Metadata            map[string]interface{} `bson:"metadata,omitempty"`
	CreatedAt           time.Time              `bson:"createdAt"`
	UpdatedAt           time.Time              `bson:"updatedAt"`
}

// MongoReferenceRepository reads and seeds the bike and device collections
type MongoReferenceRepository struct {
	bikes   *mongo.Collection
	devices *mongo.Collection
}

func NewMongoReferenceRepository(bikes, devices *mongo.Collection) *MongoReferenceRepository {
	return &MongoReferenceRepository{bikes: bikes, devices: devices}
}

func (r *MongoReferenceRepository) UpsertBike(ctx context.Context, bike *mqtmodels.Bike) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"label":                 bike.Label,
			"description":           bike.Description,
			"mqttTopicPrefix":       bike.MQTTTopicPrefix,
			"mqttReportTopicSuffix": bike.MQTTReportTopicSuffix,
			"updatedAt":             now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}

	var doc bikeDocument
	err := r.bikes.FindOneAndUpdate(ctx, bson.M{"name": bike.Name}, update, upsertReturnAfter()).Decode(&doc)
	if err != nil {
		return fmt.Errorf("failed to upsert bike %s: %w", bike.Name, err)
	}
	bike.ID, bike.CreatedAt, bike.UpdatedAt = doc.ID.Hex(), doc.CreatedAt.UTC(), doc.UpdatedAt.UTC()
	return nil
}

func (r *MongoReferenceRepository) UpsertDevice(ctx context.Context, device *mqtmodels.Device) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"bikeId":              device.BikeID,
			"label":               device.Label,
			"description":         device.Description,
			"deviceType":          string(device.DeviceType),
			"unitName":            device.UnitName,
			"mqttTopicDeviceName": device.MQTTTopicDeviceName,
			"macAddress":          device.MacAddress,
			"bluetoothName":       device.BluetoothName,
			"metadata":            ensureMetaNotNull(device.Metadata),
			"updatedAt":           now,
		},
		"$setOnInsert": bson.M{"createdAt": now},
	}

	var doc deviceDocument
	err := r.devices.FindOneAndUpdate(ctx, bson.M{"name": device.Name}, update, upsertReturnAfter()).Decode(&doc)
	if err != nil {
		return fmt.Errorf("failed to upsert device %s: %w", device.Name, err)
	}
	device.ID, device.CreatedAt, device.UpdatedAt = doc.ID.Hex(), doc.CreatedAt.UTC(), doc.UpdatedAt.UTC()
	return nil
}

func (r *MongoReferenceRepository) ListBikes(ctx context.Context) ([]mqtmodels.Bike, error) {
	cur, err := r.bikes.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list bikes: %w", err)
	}
	defer cur.Close(ctx)

	var bikes []mqtmodels.Bike
	for cur.Next(ctx) {
		var doc bikeDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode bike: %w", err)
		}
		bikes = append(bikes, mqtmodels.Bike{
			ID:                    doc.ID.Hex(),
			Name:                  doc.Name,
			Label:                 doc.Label,
			Description:           doc.Description,
			MQTTTopicPrefix:       doc.MQTTTopicPrefix,
			MQTTReportTopicSuffix: doc.MQTTReportTopicSuffix,
			CreatedAt:             doc.CreatedAt.UTC(),
			UpdatedAt:             doc.UpdatedAt.UTC(),
		})
	}
	return bikes, cur.Err()
}

func (r *MongoReferenceRepository) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	cur, err := r.devices.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer cur.Close(ctx)

	var devices []mqtmodels.Device
	for cur.Next(ctx) {
		var doc deviceDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode device: %w", err)
		}
		devices = append(devices, mqtmodels.Device{
			ID:                  doc.ID.Hex(),
			BikeID:              doc.BikeID,
			Name:                doc.Name,
			Label:               doc.Label,
			Description:         doc.Description,
			DeviceType:          mqtmodels.DeviceType(doc.DeviceType),
			UnitName:            doc.UnitName,
			MQTTTopicDeviceName: doc.MQTTTopicDeviceName,
			MacAddress:          doc.MacAddress,
			BluetoothName:       doc.BluetoothName,
			Metadata:            doc.Metadata,
			CreatedAt:           doc.CreatedAt.UTC(),
			UpdatedAt:           doc.UpdatedAt.UTC(),
		})
	}
	return devices, cur.Err()
}

func (r *MongoReferenceRepository) CountBikes(ctx context.Context) (int64, error) {
	return r.bikes.CountDocuments(ctx, bson.M{})
}

func (r *MongoReferenceRepository) CountDevices(ctx context.Context) (int64, error) {
	return r.devices.CountDocuments(ctx, bson.M{})
}

func upsertReturnAfter() *options.FindOneAndUpdateOptions {
	return options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
}
