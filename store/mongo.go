package store

import (
	"context"
	"fmt"
	"stem-sync/models"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoDatabase   = "stem-sync"
	mongoCollection = "sessions"
	mongoTimeout    = 10 * time.Second
)

// MongoStore keeps session metadata in a MongoDB collection, one
// document per session keyed by processing_id.
type MongoStore struct {
	client *mongo.Client
}

func NewMongoStore(uri string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("error pinging MongoDB: %v", err)
	}

	return &MongoStore{client: client}, nil
}

func (m *MongoStore) sessions() *mongo.Collection {
	return m.client.Database(mongoDatabase).Collection(mongoCollection)
}

func (m *MongoStore) SaveSession(meta *models.SessionMetadata) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	filter := bson.M{"processing_id": meta.SessionID}
	opts := options.Replace().SetUpsert(true)

	if _, err := m.sessions().ReplaceOne(ctx, filter, meta, opts); err != nil {
		return fmt.Errorf("error saving session %s: %v", meta.SessionID, err)
	}
	return nil
}

func (m *MongoStore) GetSession(sessionID string) (*models.SessionMetadata, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	var meta models.SessionMetadata
	err := m.sessions().FindOne(ctx, bson.M{"processing_id": sessionID}).Decode(&meta)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("error loading session %s: %v", sessionID, err)
	}
	return &meta, true, nil
}

func (m *MongoStore) DeleteSession(sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	if _, err := m.sessions().DeleteOne(ctx, bson.M{"processing_id": sessionID}); err != nil {
		return fmt.Errorf("error deleting session %s: %v", sessionID, err)
	}
	return nil
}

func (m *MongoStore) ListSessions() ([]models.SessionMetadata, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := m.sessions().Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error listing sessions: %v", err)
	}
	defer cursor.Close(ctx)

	var sessions []models.SessionMetadata
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("error decoding sessions: %v", err)
	}
	return sessions, nil
}

func (m *MongoStore) TotalSessions() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()

	count, err := m.sessions().CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("error counting sessions: %v", err)
	}
	return int(count), nil
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
