package storage

import (
	"context"

	"gitlab.com/tozd/go/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// MongoDBStorage implements Storage interface using MongoDB
type MongoDBStorage struct {
	client *mongo.Client
	runs   *mongo.Collection
	status *mongo.Collection
}

// NewMongoDBStorage connects to MongoDB and prepares the run collections
func NewMongoDBStorage(ctx context.Context, cfg config.HistoryConfig) (*MongoDBStorage, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDBURI))
	if err != nil {
		return nil, errors.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	storage := &MongoDBStorage{
		client: client,
		runs:   db.Collection(cfg.TableName),
		status: db.Collection(cfg.TableName + "_status"),
	}

	_, err = storage.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "timestamp", Value: -1}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Errorf("failed to create run index: %w", err)
	}

	return storage, nil
}

// SaveRun upserts a run report keyed by its id
func (m *MongoDBStorage) SaveRun(ctx context.Context, report models.RunReport) error {
	_, err := m.runs.ReplaceOne(ctx, bson.M{"_id": report.ID}, report, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Errorf("failed to store run %s: %w", report.ID, err)
	}
	return nil
}

// ListRuns returns up to limit reports, newest first
func (m *MongoDBStorage) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := m.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, errors.Errorf("failed to query runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []models.RunReport
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, errors.Errorf("failed to decode runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves a specific run by id
func (m *MongoDBStorage) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	var report models.RunReport
	err := m.runs.FindOne(ctx, bson.M{"_id": id}).Decode(&report)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Errorf("failed to get run %s: %w", id, err)
	}
	return &report, nil
}

// UpdateRunStatus replaces the status document
func (m *MongoDBStorage) UpdateRunStatus(ctx context.Context, status models.RunStatus) error {
	_, err := m.status.ReplaceOne(ctx, bson.M{"_id": statusKey}, status, options.Replace().SetUpsert(true))
	if err != nil {
		return errors.Errorf("failed to store run status: %w", err)
	}
	return nil
}

// GetRunStatus retrieves the current run status
func (m *MongoDBStorage) GetRunStatus(ctx context.Context) (*models.RunStatus, error) {
	var status models.RunStatus
	err := m.status.FindOne(ctx, bson.M{"_id": statusKey}).Decode(&status)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return NeverRun(), nil
	}
	if err != nil {
		return nil, errors.Errorf("failed to get run status: %w", err)
	}
	return &status, nil
}

// Close disconnects from MongoDB
func (m *MongoDBStorage) Close() error {
	return m.client.Disconnect(context.Background())
}
