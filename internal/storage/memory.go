package storage

import (
	"context"
	"sync"

	"github.com/leaselab/image-sync/internal/models"
)

// MemoryStorage keeps run history in process memory
type MemoryStorage struct {
	mu     sync.RWMutex
	runs   []models.RunReport
	status *models.RunStatus
}

// NewMemoryStorage creates an empty in-memory history
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// SaveRun stores a run report, replacing any report with the same id
func (m *MemoryStorage) SaveRun(ctx context.Context, report models.RunReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.runs {
		if m.runs[i].ID == report.ID {
			m.runs[i] = report
			return nil
		}
	}
	m.runs = append(m.runs, report)
	return nil
}

// ListRuns returns up to limit reports, newest first
func (m *MemoryStorage) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	m.mu.RLock()
	runs := make([]models.RunReport, len(m.runs))
	copy(runs, m.runs)
	m.mu.RUnlock()

	return newestFirst(runs, limit), nil
}

// GetRun returns the report with the given id, or nil when unknown
func (m *MemoryStorage) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := range m.runs {
		if m.runs[i].ID == id {
			report := m.runs[i]
			return &report, nil
		}
	}
	return nil, nil
}

// UpdateRunStatus replaces the stored run status
func (m *MemoryStorage) UpdateRunStatus(ctx context.Context, status models.RunStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &status
	return nil
}

// GetRunStatus returns the stored run status
func (m *MemoryStorage) GetRunStatus(ctx context.Context) (*models.RunStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.status == nil {
		return NeverRun(), nil
	}
	status := *m.status
	return &status, nil
}

// Close is a no-op
func (m *MemoryStorage) Close() error {
	return nil
}
