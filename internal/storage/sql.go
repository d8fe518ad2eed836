package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"gitlab.com/tozd/go/errors"
	_ "modernc.org/sqlite"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

const (
	busyTimeoutMS   = 5000
	connMaxLifetime = 5 * time.Minute
)

// SQLStorage implements Storage on top of database/sql. Reports are stored
// as JSON documents next to the columns used for ordering.
type SQLStorage struct {
	db          *sql.DB
	placeholder func(n int) string
}

// NewPostgreSQLStorage opens a PostgreSQL-backed history using lib/pq
func NewPostgreSQLStorage(ctx context.Context, cfg config.HistoryConfig) (*SQLStorage, error) {
	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		return nil, errors.Errorf("failed to open PostgreSQL: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Errorf("failed to ping PostgreSQL: %w", err)
	}

	storage := &SQLStorage{
		db:          db,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	if err := storage.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

// NewSQLiteStorage opens a SQLite-backed history using the pure-Go driver
func NewSQLiteStorage(ctx context.Context, cfg config.HistoryConfig) (*SQLStorage, error) {
	if cfg.SQLitePath == "" {
		return nil, errors.New("sqlite path is required")
	}
	u := url.URL{Scheme: "file", Path: cfg.SQLitePath}

	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, errors.Errorf("failed to open SQLite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		fmt.Sprintf("PRAGMA busy_timeout = %d;", busyTimeoutMS),
	}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Errorf("failed to configure SQLite: %w", err)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(connMaxLifetime)

	storage := &SQLStorage{
		db:          db,
		placeholder: func(int) string { return "?" },
	}
	if err := storage.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return storage, nil
}

func (s *SQLStorage) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			trigger_name TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			started_at BIGINT NOT NULL,
			report TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at ON sync_runs (started_at)`,
		`CREATE TABLE IF NOT EXISTS sync_status (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Errorf("failed to migrate run history: %w", err)
		}
	}
	return nil
}

// bind rewrites ? placeholders for the active driver
func (s *SQLStorage) bind(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SaveRun upserts a run report keyed by its id
func (s *SQLStorage) SaveRun(ctx context.Context, report models.RunReport) error {
	doc, err := json.Marshal(report)
	if err != nil {
		return errors.Errorf("failed to marshal run %s: %w", report.ID, err)
	}

	_, err = s.db.ExecContext(ctx, s.bind(`INSERT INTO sync_runs (id, trigger_name, success, started_at, report)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			trigger_name = excluded.trigger_name,
			success = excluded.success,
			started_at = excluded.started_at,
			report = excluded.report`),
		report.ID, report.Trigger, report.Success, report.Timestamp.UnixNano(), string(doc))
	if err != nil {
		return errors.Errorf("failed to store run %s: %w", report.ID, err)
	}
	return nil
}

// ListRuns returns up to limit reports, newest first
func (s *SQLStorage) ListRuns(ctx context.Context, limit int) ([]models.RunReport, error) {
	query := `SELECT report FROM sync_runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, errors.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.RunReport
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, errors.Errorf("failed to scan run: %w", err)
		}
		var report models.RunReport
		if err := json.Unmarshal([]byte(doc), &report); err != nil {
			return nil, errors.Errorf("failed to unmarshal run: %w", err)
		}
		runs = append(runs, report)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves a specific run by id
func (s *SQLStorage) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT report FROM sync_runs WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Errorf("failed to get run %s: %w", id, err)
	}

	var report models.RunReport
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return nil, errors.Errorf("failed to unmarshal run: %w", err)
	}
	return &report, nil
}

// UpdateRunStatus replaces the stored run status
func (s *SQLStorage) UpdateRunStatus(ctx context.Context, status models.RunStatus) error {
	doc, err := json.Marshal(status)
	if err != nil {
		return errors.Errorf("failed to marshal run status: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.bind(`INSERT INTO sync_status (id, status) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status`), statusKey, string(doc))
	if err != nil {
		return errors.Errorf("failed to store run status: %w", err)
	}
	return nil
}

// GetRunStatus retrieves the current run status
func (s *SQLStorage) GetRunStatus(ctx context.Context) (*models.RunStatus, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, s.bind(`SELECT status FROM sync_status WHERE id = ?`), statusKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return NeverRun(), nil
	}
	if err != nil {
		return nil, errors.Errorf("failed to get run status: %w", err)
	}

	var status models.RunStatus
	if err := json.Unmarshal([]byte(doc), &status); err != nil {
		return nil, errors.Errorf("failed to unmarshal run status: %w", err)
	}
	return &status, nil
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
