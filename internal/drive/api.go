package drive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

const listFields = googleapi.Field("files(id,name,mimeType,md5Checksum),nextPageToken")

// APILister talks to the Google Drive v3 API
type APILister struct {
	service     *drivev3.Service
	callTimeout time.Duration
}

// NewAPILister creates a Drive API lister. An API key is preferred; a
// service account JSON key is exchanged for drive.readonly tokens.
func NewAPILister(ctx context.Context, cfg config.SourceConfig, callTimeout time.Duration, extra ...option.ClientOption) (*APILister, error) {
	var opts []option.ClientOption
	switch {
	case cfg.DriveAPIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.DriveAPIKey))
	case cfg.ServiceAccountJSON != "":
		creds, err := google.CredentialsFromJSON(ctx, []byte(cfg.ServiceAccountJSON), drivev3.DriveReadonlyScope)
		if err != nil {
			return nil, errors.Errorf("failed to parse service account JSON: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	default:
		return nil, errors.New("Google Drive credentials not configured")
	}
	if cfg.DriveEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.DriveEndpoint))
	}
	opts = append(opts, extra...)

	service, err := drivev3.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Errorf("failed to create Drive client: %w", err)
	}

	return &APILister{
		service:     service,
		callTimeout: timeoutOrDefault(callTimeout),
	}, nil
}

// ListFiles implements Lister
func (l *APILister) ListFiles(ctx context.Context, folderID string) ([]models.SourceFile, error) {
	query := fmt.Sprintf("'%s' in parents and trashed=false", strings.ReplaceAll(folderID, "'", `\'`))
	var files []models.SourceFile
	pageToken := ""

	for {
		page, err := l.listPage(ctx, query, pageToken)
		if err != nil {
			return nil, errors.Errorf("Drive API error: %w", err)
		}
		for _, f := range page.Files {
			files = append(files, models.SourceFile{
				FileID:      f.Id,
				Name:        f.Name,
				MimeType:    f.MimeType,
				ContentHash: f.Md5Checksum,
			})
		}
		pageToken = page.NextPageToken
		if pageToken == "" {
			break
		}
	}

	return imagesSorted(files), nil
}

func (l *APILister) listPage(ctx context.Context, query, pageToken string) (*drivev3.FileList, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	call := l.service.Files.List().
		Q(query).
		Fields(listFields).
		PageSize(100).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	return call.Do()
}

// Download implements Lister
func (l *APILister) Download(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)

	resp, err := l.service.Files.Get(fileID).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		cancel()
		return nil, "", errors.Errorf("Failed to download file: %w", err)
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}
