/*
Package mongodb persists serialized network models and result exports,
keyed by network PID. Documents are upserted so repeated snapshots of the
same network overwrite in place.
*/
package mongodb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	modelCollection   = "networkModels"
	resultsCollection = "networkResults"
)

// Config holds the connection settings.
type Config struct {
	URI      string `json:"URI"`
	Database string `json:"Database"`
}

// Store is a snapshot store backed by a MongoDB database.
type Store struct {
	client *mongo.Client
	config Config
}

// New configures a store from raw JSON config and connects to the database.
func New(ctx context.Context, jsonConfig []byte) (*Store, error) {
	config := Config{}
	if err := json.Unmarshal(jsonConfig, &config); err != nil {
		return nil, err
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, err
	}
	return &Store{client: client, config: config}, nil
}

// Close disconnects from the database.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) collection(name string) *mongo.Collection {
	return s.client.Database(s.config.Database).Collection(name)
}

func (s *Store) upsert(ctx context.Context, collection string, pid uuid.UUID, doc []byte) error {
	opts := options.Update().SetUpsert(true)
	_, err := s.collection(collection).UpdateOne(
		ctx,
		bson.M{"pid": pid.String()},
		bson.D{{Key: "$set", Value: bson.M{
			"pid":  pid.String(),
			"data": string(doc),
		}}},
		opts,
	)
	return err
}

func (s *Store) fetch(ctx context.Context, collection string, pid uuid.UUID) ([]byte, error) {
	var out struct {
		PID  string `bson:"pid"`
		Data string `bson:"data"`
	}
	err := s.collection(collection).FindOne(ctx, bson.M{"pid": pid.String()}).Decode(&out)
	if err != nil {
		return nil, fmt.Errorf("snapshot for %s: %w", pid, err)
	}
	return []byte(out.Data), nil
}

// SaveModel stores a serialized model document for the network pid.
func (s *Store) SaveModel(ctx context.Context, pid uuid.UUID, doc []byte) error {
	return s.upsert(ctx, modelCollection, pid, doc)
}

// LoadModel fetches the serialized model document for the network pid.
func (s *Store) LoadModel(ctx context.Context, pid uuid.UUID) ([]byte, error) {
	return s.fetch(ctx, modelCollection, pid)
}

// SaveResults stores a result export for the network pid.
func (s *Store) SaveResults(ctx context.Context, pid uuid.UUID, doc []byte) error {
	return s.upsert(ctx, resultsCollection, pid, doc)
}

// LoadResults fetches the result export for the network pid.
func (s *Store) LoadResults(ctx context.Context, pid uuid.UUID) ([]byte, error) {
	return s.fetch(ctx, resultsCollection, pid)
}
