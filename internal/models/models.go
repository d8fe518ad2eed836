package models

import "time"

// SourceRecord represents a property known to the metadata store
type SourceRecord struct {
	ID                    string `json:"id"`
	Slug                  string `json:"slug"`
	SourceFolderReference string `json:"source_folder_reference"`
}

// SourceFile represents one file inside a source folder
type SourceFile struct {
	FileID      string `json:"id"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	ContentHash string `json:"md5Checksum,omitempty"`
}

// ObjectMeta describes a destination object and its custom metadata
type ObjectMeta struct {
	ContentHash  string
	SourceFileID string
	SyncedAt     time.Time
	ContentType  string
	Size         int64

	// Custom holds every custom metadata entry with lowercased keys
	Custom map[string]string
}

// RecordStatus is the terminal state of a record within a run
type RecordStatus string

const (
	StatusSuccess RecordStatus = "success"
	StatusFailed  RecordStatus = "failed"
	StatusSkipped RecordStatus = "skipped"
)

// SyncResult is the outcome of syncing one record
type SyncResult struct {
	Slug         string       `json:"slug"`
	Status       RecordStatus `json:"status"`
	FilesSynced  int          `json:"filesSynced"`
	FilesSkipped int          `json:"filesSkipped"`
	FilesFailed  int          `json:"filesFailed"`
	Errors       []string     `json:"errors"`

	// Keys holds the destination key of every image seen for the record,
	// synced or skipped, in listing order.
	Keys []string `json:"-"`
}

// SyncSummary aggregates SyncResults across a run
type SyncSummary struct {
	PropertiesProcessed int `json:"propertiesProcessed"`
	PropertiesSucceeded int `json:"propertiesSucceeded"`
	PropertiesFailed    int `json:"propertiesFailed"`
	PropertiesSkipped   int `json:"propertiesSkipped"`
	FilesSynced         int `json:"filesSynced"`
	FilesSkipped        int `json:"filesSkipped"`
	FilesFailed         int `json:"filesFailed"`
}

// Add folds one record result into the summary
func (s *SyncSummary) Add(r SyncResult) {
	s.PropertiesProcessed++
	switch r.Status {
	case StatusSuccess:
		s.PropertiesSucceeded++
	case StatusSkipped:
		s.PropertiesSkipped++
	default:
		s.PropertiesFailed++
	}
	s.FilesSynced += r.FilesSynced
	s.FilesSkipped += r.FilesSkipped
	s.FilesFailed += r.FilesFailed
}

// RunReport is the result of one complete run
type RunReport struct {
	ID        string       `json:"id" bson:"_id"`
	Trigger   string       `json:"trigger"`
	Success   bool         `json:"success"`
	Timestamp time.Time    `json:"timestamp"`
	Duration  string       `json:"duration"`
	Summary   SyncSummary  `json:"summary"`
	Details   []SyncResult `json:"details"`
	Message   string       `json:"message,omitempty"`
}

// RunStatus tracks the status of sync runs
type RunStatus struct {
	LastSuccessfulRun time.Time `json:"last_successful_run"`
	LastAttempt       time.Time `json:"last_attempt"`
	Status            string    `json:"status"` // "success", "failure", "never_run"
	ErrorMessage      string    `json:"error_message,omitempty"`
	FilesSynced       int       `json:"files_synced"`
	RunID             string    `json:"run_id,omitempty"`
}

// UploadedAsset is a public image reference written back to the metadata store
type UploadedAsset struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}
