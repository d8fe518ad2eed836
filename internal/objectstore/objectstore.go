package objectstore

import (
	"context"
	"io"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// Custom metadata keys written on every synced object
const (
	MetaContentHash  = "x-hash-md5"
	MetaSourceFileID = "x-drive-file-id"
	MetaSyncedAt     = "x-synced-at"
)

// ErrNotFound is returned by Head when no object exists at the key
var ErrNotFound = errors.Base("object not found")

// Store is the destination object store
type Store interface {
	// Head returns the metadata of the object at key, or ErrNotFound.
	Head(ctx context.Context, key string) (*models.ObjectMeta, error)
	// Put writes body at key, replacing any existing object.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, meta map[string]string) error
}

// New creates a destination store based on configuration
func New(cfg config.DestinationConfig) (Store, error) {
	switch cfg.Type {
	case "s3":
		return NewS3(cfg)
	case "minio":
		return NewMinio(cfg)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.Errorf("unsupported destination type: %s", cfg.Type)
	}
}

// metaFromCustom builds ObjectMeta from raw custom metadata, normalizing
// keys to lower case since S3 implementations canonicalize header names.
func metaFromCustom(custom map[string]string, contentType string, size int64) *models.ObjectMeta {
	normalized := make(map[string]string, len(custom))
	for k, v := range custom {
		normalized[strings.ToLower(k)] = v
	}

	meta := &models.ObjectMeta{
		ContentHash:  normalized[MetaContentHash],
		SourceFileID: normalized[MetaSourceFileID],
		ContentType:  contentType,
		Size:         size,
		Custom:       normalized,
	}
	if ts, ok := normalized[MetaSyncedAt]; ok {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			meta.SyncedAt = parsed
		}
	}
	return meta
}
