package syncer

import (
	"bytes"
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/models"
	"github.com/leaselab/image-sync/internal/objectstore"
)

const defaultContentType = "application/octet-stream"

// fileOutcome is the result of diffing and, when needed, transferring one file
type fileOutcome struct {
	Key    string
	Action Action
	Err    error
}

// processFile runs the diff for one file and transfers it when it changed
func (s *Service) processFile(ctx context.Context, slug string, file models.SourceFile) fileOutcome {
	logger := zerolog.Ctx(ctx)
	key := ObjectKey(slug, file.Name)

	dest, err := s.head(ctx, key)
	if err != nil {
		// An unreadable destination is treated as absent; the upload decides.
		logger.Warn().Err(err).Str("key", key).Msg("Failed to read destination metadata")
		dest = nil
	}

	action := Classify(file, dest)
	if action == ActionSkip {
		logger.Debug().Str("key", key).Str("hash", file.ContentHash).Msg("Skipping, hash matches")
		return fileOutcome{Key: key, Action: ActionSkip}
	}

	if file.ContentHash == "" {
		logger.Info().Str("file", file.Name).Msg("No content hash from source, syncing anyway")
	}

	if err := s.transfer(ctx, key, file); err != nil {
		logger.Error().Err(err).Str("key", key).Msg("Transfer failed")
		return fileOutcome{Key: key, Action: ActionSync, Err: err}
	}
	return fileOutcome{Key: key, Action: ActionSync}
}

// head returns destination metadata, or nil when no object exists at key
func (s *Service) head(ctx context.Context, key string) (*models.ObjectMeta, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	meta, err := s.deps.Store.Head(ctx, key)
	if errors.Is(err, objectstore.ErrNotFound) {
		return nil, nil
	}
	return meta, err
}

// transfer downloads file from the source and writes it at key
func (s *Service) transfer(ctx context.Context, key string, file models.SourceFile) error {
	body, sourceType, err := s.deps.Source.Download(ctx, file.FileID)
	if err != nil {
		return &TransferError{Name: file.Name, Stage: StageDownload, Err: err}
	}
	data, err := io.ReadAll(body)
	body.Close()
	if err != nil {
		return &TransferError{Name: file.Name, Stage: StageDownload, Err: errors.Errorf("failed to read file content: %w", err)}
	}

	meta := map[string]string{
		objectstore.MetaSourceFileID: file.FileID,
		objectstore.MetaSyncedAt:     s.now().UTC().Format(time.RFC3339Nano),
	}
	if file.ContentHash != "" {
		meta[objectstore.MetaContentHash] = file.ContentHash
	}

	putCtx, cancel := s.callContext(ctx)
	defer cancel()

	contentType := contentTypeFor(file, sourceType)
	if err := s.deps.Store.Put(putCtx, key, bytes.NewReader(data), int64(len(data)), contentType, meta); err != nil {
		return &TransferError{Name: file.Name, Stage: StageUpload, Err: err}
	}

	zerolog.Ctx(ctx).Info().
		Str("key", key).
		Str("original", file.Name).
		Str("size", humanize.Bytes(uint64(len(data)))).
		Msg("Uploaded")
	return nil
}

// contentTypeFor prefers the listing's MIME type, then the download's, then
// the file extension.
func contentTypeFor(file models.SourceFile, downloaded string) string {
	for _, candidate := range []string{file.MimeType, downloaded} {
		if candidate != "" && candidate != "image/*" {
			return candidate
		}
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Name))); byExt != "" {
		return byExt
	}
	return defaultContentType
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Sync.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Sync.CallTimeout)
}
