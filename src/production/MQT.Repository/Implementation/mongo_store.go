package implementation

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	config "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Config"
	interfaces "gitlab.com/smartbike/sensors.mqtt_server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore keeps readings in a time-series collection and the bike/device
// directory in regular collections.
type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	cfg      config.StoreConfig
	readings *MongoReadingRepository
	refs     *MongoReferenceRepository
}

// ConnectMongoWithTimeout creates a MongoDB client and pings the primary
func ConnectMongoWithTimeout(cfg config.StoreConfig) (*mongo.Client, error) {
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("MONGODB_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.MongoURI)

	// Atlas SRV URIs need TLS 1.2
	if strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		clientOptions.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)
	clientOptions.SetSocketTimeout(30 * time.Second)
	clientOptions.SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return client, nil
}

// OpenMongoStore connects and wires the Mongo repositories
func OpenMongoStore(cfg config.StoreConfig) (*MongoStore, error) {
	client, err := ConnectMongoWithTimeout(cfg)
	if err != nil {
		return nil, err
	}
	return NewMongoStore(client, cfg), nil
}

// NewMongoStore wires repositories over an existing client
func NewMongoStore(client *mongo.Client, cfg config.StoreConfig) *MongoStore {
	db := client.Database(cfg.MongoDatabase)
	return &MongoStore{
		client:   client,
		db:       db,
		cfg:      cfg,
		readings: NewMongoReadingRepository(db.Collection(cfg.ReadingsCollection)),
		refs: NewMongoReferenceRepository(
			db.Collection(cfg.BikesCollection),
			db.Collection(cfg.DevicesCollection),
		),
	}
}

func (s *MongoStore) Readings() interfaces.ReadingRepository     { return s.readings }
func (s *MongoStore) References() interfaces.ReferenceRepository { return s.refs }
func (s *MongoStore) Driver() string                             { return config.DriverMongo }

// Init creates the time-series readings collection and the unique name
// indexes of the directory collections.
func (s *MongoStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	names, err := s.db.ListCollectionNames(ctx, bson.M{"name": s.cfg.ReadingsCollection})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if len(names) == 0 {
		tsOpts := options.TimeSeries().
			SetTimeField("reportedAt").
			SetMetaField("metadata").
			SetGranularity("seconds")
		err := s.db.CreateCollection(ctx, s.cfg.ReadingsCollection, options.CreateCollection().SetTimeSeriesOptions(tsOpts))
		if err != nil && !isNamespaceExists(err) {
			return fmt.Errorf("failed to create time-series collection %s: %w", s.cfg.ReadingsCollection, err)
		}
	}

	unique := mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	for _, coll := range []string{s.cfg.BikesCollection, s.cfg.DevicesCollection} {
		if _, err := s.db.Collection(coll).Indexes().CreateOne(ctx, unique); err != nil {
			return fmt.Errorf("failed to create name index on %s: %w", coll, err)
		}
	}
	return nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == 48 // NamespaceExists
}
