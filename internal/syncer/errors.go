package syncer

import (
	"fmt"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
)

var (
	// ErrConfiguration is returned before any record is processed when
	// required credentials are missing.
	ErrConfiguration = config.ErrConfiguration

	ErrUnresolvableReference = errors.Base("Invalid Google Drive folder URL")
	ErrEmptySource           = errors.Base("No image files found in Drive folder")
	ErrMissingSlug           = errors.Base("Record has no slug or title")
	ErrUnauthorized          = errors.Base("Unauthorized")
	ErrRunInProgress         = errors.Base("sync already in progress")
)

// Transfer stages
const (
	StageDownload = "download"
	StageUpload   = "upload"
)

// TransferError is a per-file failure. It never aborts sibling files.
type TransferError struct {
	Name  string
	Stage string
	Err   error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("Failed to sync %s: %s", e.Name, e.Err.Error())
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
