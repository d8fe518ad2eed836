package syncer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/drive"
	"github.com/leaselab/image-sync/internal/metadata"
	"github.com/leaselab/image-sync/internal/models"
	"github.com/leaselab/image-sync/internal/objectstore"
	"github.com/leaselab/image-sync/internal/storage"
)

// Run triggers
const (
	TriggerHTTP   = "http"
	TriggerTimer  = "timer"
	TriggerCLI    = "cli"
	TriggerRecord = "record"
)

const noRecordsMessage = "No properties with Image Folder URL found"

// Deps are the collaborators of a sync run. Images and History are optional.
type Deps struct {
	Records metadata.Enumerator
	Source  drive.Lister
	Store   objectstore.Store
	Images  metadata.ImageWriter
	History storage.Storage
}

// Service mirrors source folders into the destination store
type Service struct {
	cfg  *config.Config
	deps Deps
	lock *runLock
	now  func() time.Time
}

// NewService creates a new sync service
func NewService(cfg *config.Config, deps Deps) *Service {
	s := &Service{
		cfg:  cfg,
		deps: deps,
		now:  time.Now,
	}
	s.lock = &runLock{
		store:   deps.Store,
		ttl:     cfg.Sync.LeaseTTL,
		timeout: cfg.Sync.CallTimeout,
		now:     func() time.Time { return s.now() },
	}
	return s
}

// Start runs a sync immediately and then on every interval tick until ctx
// is cancelled. Run failures are logged and never stop the loop.
func (s *Service) Start(ctx context.Context) error {
	if s.cfg.Sync.Interval <= 0 {
		zerolog.Ctx(ctx).Info().Msg("Scheduled sync disabled")
		return nil
	}

	s.runScheduled(ctx)

	ticker := time.NewTicker(s.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runScheduled(ctx)
		}
	}
}

func (s *Service) runScheduled(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	report, err := s.Run(ctx, TriggerTimer)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Info().Err(err).Msg("Skipping scheduled sync")
	case err != nil:
		logger.Error().Err(err).Msg("Scheduled sync failed")
	default:
		logger.Info().
			Str("run_id", report.ID).
			Interface("summary", report.Summary).
			Msg("Scheduled sync completed")
	}
}

func (s *Service) ready() error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.deps.Records == nil || s.deps.Source == nil || s.deps.Store == nil {
		return errors.Errorf("%w: sync clients are not initialized", ErrConfiguration)
	}
	return nil
}

// Run performs one complete sync of every record. It fails only on
// configuration problems, a busy run lock or a failed enumeration; record
// and file failures are reported in the returned RunReport.
func (s *Service) Run(ctx context.Context, trigger string) (*models.RunReport, error) {
	start := s.now()
	runID := uuid.NewString()

	logger := zerolog.Ctx(ctx).With().Str("run_id", runID).Str("trigger", trigger).Logger()
	ctx = logger.WithContext(ctx)

	if err := s.ready(); err != nil {
		s.recordFailure(ctx, runID, start, err)
		return nil, err
	}

	release, err := s.lock.acquire(ctx, runID)
	if err != nil {
		return nil, err
	}
	defer release()

	logger.Info().Msg("Starting sync")

	records, err := s.deps.Records.ListRecords(ctx)
	if err != nil {
		err = errors.Errorf("failed to list records: %w", err)
		s.recordFailure(ctx, runID, start, err)
		return nil, err
	}

	details := fanOut(ctx, s.cfg.Sync.RecordWorkers, records, s.syncRecord)

	report := &models.RunReport{
		ID:        runID,
		Trigger:   trigger,
		Success:   true,
		Timestamp: start.UTC(),
		Details:   details,
	}
	for _, result := range details {
		report.Summary.Add(result)
	}
	if len(records) == 0 {
		report.Message = noRecordsMessage
	}
	report.Duration = fmt.Sprintf("%dms", s.now().Sub(start).Milliseconds())

	logger.Info().
		Int("properties", report.Summary.PropertiesProcessed).
		Int("files_synced", report.Summary.FilesSynced).
		Int("files_skipped", report.Summary.FilesSkipped).
		Int("files_failed", report.Summary.FilesFailed).
		Str("duration", report.Duration).
		Msg("Sync completed")

	s.recordSuccess(ctx, report)
	return report, nil
}

// SyncRecord syncs the single record with the given id. When a public base
// URL is configured and the metadata store accepts write-back, the public
// URLs of every image of the record are written back to it.
func (s *Service) SyncRecord(ctx context.Context, recordID string) (*models.SyncResult, error) {
	logger := zerolog.Ctx(ctx).With().Str("record_id", recordID).Str("trigger", TriggerRecord).Logger()
	ctx = logger.WithContext(ctx)

	if err := s.ready(); err != nil {
		return nil, err
	}

	release, err := s.lock.acquire(ctx, "record-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	defer release()

	record, err := s.deps.Records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	result := s.syncRecord(ctx, *record)

	if base := strings.TrimRight(s.cfg.Destination.PublicBaseURL, "/"); base != "" && s.deps.Images != nil && len(result.Keys) > 0 {
		assets := make([]models.UploadedAsset, 0, len(result.Keys))
		for _, key := range result.Keys {
			assets = append(assets, models.UploadedAsset{
				URL:      base + "/" + key,
				Filename: key[strings.LastIndex(key, "/")+1:],
			})
		}
		if err := s.deps.Images.UpdateImages(ctx, recordID, assets); err != nil {
			logger.Error().Err(err).Msg("Failed to write image URLs back")
			result.Errors = append(result.Errors, "Failed to update record images: "+err.Error())
		} else {
			logger.Info().Int("images", len(assets)).Msg("Updated record images")
		}
	}

	return &result, nil
}

// syncRecord drives one record through listing, diff and transfer. It
// never returns an error; failures are captured in the result.
func (s *Service) syncRecord(ctx context.Context, record models.SourceRecord) models.SyncResult {
	logger := zerolog.Ctx(ctx).With().Str("slug", record.Slug).Logger()
	ctx = logger.WithContext(ctx)

	result := models.SyncResult{Slug: record.Slug, Errors: []string{}}

	// keys are namespaced by slug, so a record without one has nowhere to go
	if record.Slug == "" {
		logger.Warn().Str("record_id", record.ID).Msg("Record has no slug")
		result.Status = models.StatusFailed
		result.Errors = append(result.Errors, ErrMissingSlug.Error())
		return result
	}

	folderID, ok := drive.ParseFolderID(record.SourceFolderReference)
	if !ok {
		logger.Warn().Str("reference", record.SourceFolderReference).Msg("Unresolvable folder reference")
		result.Status = models.StatusFailed
		result.Errors = append(result.Errors, ErrUnresolvableReference.Error())
		return result
	}

	files, err := s.deps.Source.ListFiles(ctx, folderID)
	if err != nil {
		logger.Error().Err(err).Str("folder_id", folderID).Msg("Failed to list folder")
		result.Status = models.StatusFailed
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	if len(files) == 0 {
		logger.Info().Str("folder_id", folderID).Msg("No images in folder")
		result.Status = models.StatusSkipped
		result.Errors = append(result.Errors, ErrEmptySource.Error())
		return result
	}

	outcomes := fanOut(ctx, s.cfg.Sync.FileWorkers, files, func(ctx context.Context, file models.SourceFile) fileOutcome {
		return s.processFile(ctx, record.Slug, file)
	})

	for _, outcome := range outcomes {
		switch {
		case outcome.Err != nil:
			result.FilesFailed++
			result.Errors = append(result.Errors, outcome.Err.Error())
		case outcome.Action == ActionSkip:
			result.FilesSkipped++
			result.Keys = append(result.Keys, outcome.Key)
		default:
			result.FilesSynced++
			result.Keys = append(result.Keys, outcome.Key)
		}
	}

	result.Status = models.StatusSuccess
	if result.FilesFailed > 0 && result.FilesSynced == 0 {
		result.Status = models.StatusFailed
	}

	logger.Info().
		Str("status", string(result.Status)).
		Int("synced", result.FilesSynced).
		Int("skipped", result.FilesSkipped).
		Int("failed", result.FilesFailed).
		Msg("Record processed")
	return result
}

// Status returns the last recorded run status
func (s *Service) Status(ctx context.Context) (*models.RunStatus, error) {
	if s.deps.History == nil {
		return storage.NeverRun(), nil
	}
	return s.deps.History.GetRunStatus(ctx)
}

// Runs returns up to limit recent run reports, newest first
func (s *Service) Runs(ctx context.Context, limit int) ([]models.RunReport, error) {
	if s.deps.History == nil {
		return []models.RunReport{}, nil
	}
	return s.deps.History.ListRuns(ctx, limit)
}

// GetRun returns the recorded run with the given id, or nil when unknown
func (s *Service) GetRun(ctx context.Context, id string) (*models.RunReport, error) {
	if s.deps.History == nil {
		return nil, nil
	}
	return s.deps.History.GetRun(ctx, id)
}

func (s *Service) recordSuccess(ctx context.Context, report *models.RunReport) {
	if s.deps.History == nil {
		return
	}
	logger := zerolog.Ctx(ctx)

	if err := s.deps.History.SaveRun(ctx, *report); err != nil {
		logger.Error().Err(err).Msg("Failed to save run report")
	}

	status := models.RunStatus{
		LastSuccessfulRun: report.Timestamp,
		LastAttempt:       report.Timestamp,
		Status:            "success",
		FilesSynced:       report.Summary.FilesSynced,
		RunID:             report.ID,
	}
	if err := s.deps.History.UpdateRunStatus(ctx, status); err != nil {
		logger.Error().Err(err).Msg("Failed to update run status")
	}
}

func (s *Service) recordFailure(ctx context.Context, runID string, start time.Time, runErr error) {
	if s.deps.History == nil {
		return
	}
	logger := zerolog.Ctx(ctx)

	status := models.RunStatus{
		LastAttempt:  start.UTC(),
		Status:       "failure",
		ErrorMessage: runErr.Error(),
		RunID:        runID,
	}
	if prev, err := s.deps.History.GetRunStatus(ctx); err == nil && prev != nil {
		status.LastSuccessfulRun = prev.LastSuccessfulRun
	}
	if err := s.deps.History.UpdateRunStatus(ctx, status); err != nil {
		logger.Error().Err(err).Msg("Failed to update run status")
	}
}
