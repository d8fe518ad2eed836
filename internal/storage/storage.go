package storage

import (
	"context"
	"sort"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

const statusKey = "run_status"

// Storage records the history of sync runs
type Storage interface {
	SaveRun(ctx context.Context, report models.RunReport) error
	ListRuns(ctx context.Context, limit int) ([]models.RunReport, error)
	GetRun(ctx context.Context, id string) (*models.RunReport, error)
	UpdateRunStatus(ctx context.Context, status models.RunStatus) error
	GetRunStatus(ctx context.Context) (*models.RunStatus, error)
	Close() error
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(ctx context.Context, cfg config.HistoryConfig) (Storage, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStorage(), nil
	case "dynamodb":
		return NewDynamoDBStorage(cfg)
	case "mongodb":
		return NewMongoDBStorage(ctx, cfg)
	case "postgresql":
		return NewPostgreSQLStorage(ctx, cfg)
	case "sqlite":
		return NewSQLiteStorage(ctx, cfg)
	default:
		return nil, errors.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// NeverRun is the status reported before the first run completes
func NeverRun() *models.RunStatus {
	return &models.RunStatus{Status: "never_run"}
}

// newestFirst orders reports by timestamp, most recent first, and applies limit
func newestFirst(reports []models.RunReport, limit int) []models.RunReport {
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	if limit > 0 && len(reports) > limit {
		reports = reports[:limit]
	}
	return reports
}
