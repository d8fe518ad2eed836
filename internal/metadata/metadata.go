package metadata

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// ErrRecordNotFound is returned by GetRecord when the store has no such record
var ErrRecordNotFound = errors.Base("record not found")

// Enumerator lists the properties that carry a source folder reference
type Enumerator interface {
	// ListRecords returns every record with a non-empty folder reference,
	// following pagination to exhaustion.
	ListRecords(ctx context.Context) ([]models.SourceRecord, error)
	// GetRecord fetches a single record by id, including records without a
	// folder reference.
	GetRecord(ctx context.Context, id string) (*models.SourceRecord, error)
}

// ImageWriter is implemented by stores that accept the synced image list back
type ImageWriter interface {
	UpdateImages(ctx context.Context, id string, assets []models.UploadedAsset) error
}

// NewEnumerator creates the metadata store selected by configuration
func NewEnumerator(cfg config.MetadataConfig, opts ...Option) (Enumerator, error) {
	switch cfg.Type {
	case "airtable":
		return NewAirtable(cfg, opts...), nil
	case "d1":
		return NewD1(cfg, opts...), nil
	default:
		return nil, errors.Errorf("unsupported metadata type: %s", cfg.Type)
	}
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses every run of characters outside
// [a-z0-9] into a single dash.
func Slugify(s string) string {
	s = nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// fieldString renders a loosely typed field value as a trimmed string
func fieldString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
