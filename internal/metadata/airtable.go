package metadata

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// Airtable reads property records from an Airtable base
type Airtable struct {
	rest        restClient
	apiURL      string
	baseID      string
	table       string
	folderField string
	slugField   string
	titleField  string
	imageField  string
	pageSize    int
}

type airtableRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

type airtableListResponse struct {
	Records []airtableRecord `json:"records"`
	Offset  string           `json:"offset,omitempty"`
}

// NewAirtable creates an Airtable enumerator
func NewAirtable(cfg config.MetadataConfig, opts ...Option) *Airtable {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	return &Airtable{
		rest:        newRESTClient(cfg.AirtableToken, opts),
		apiURL:      strings.TrimRight(cfg.AirtableAPIURL, "/"),
		baseID:      cfg.AirtableBaseID,
		table:       cfg.AirtableTable,
		folderField: cfg.FolderField,
		slugField:   cfg.SlugField,
		titleField:  cfg.TitleField,
		imageField:  cfg.ImageField,
		pageSize:    pageSize,
	}
}

func (a *Airtable) tableURL() string {
	return a.apiURL + "/v0/" + a.baseID + "/" + url.PathEscape(a.table)
}

// ListRecords implements Enumerator
func (a *Airtable) ListRecords(ctx context.Context) ([]models.SourceRecord, error) {
	logger := zerolog.Ctx(ctx)
	var records []models.SourceRecord
	offset := ""

	for {
		query := url.Values{}
		query.Set("pageSize", strconv.Itoa(a.pageSize))
		if offset != "" {
			query.Set("offset", offset)
		}

		var page airtableListResponse
		if err := a.rest.doJSON(ctx, http.MethodGet, a.tableURL()+"?"+query.Encode(), nil, &page); err != nil {
			return nil, errors.Errorf("Airtable API error: %w", err)
		}

		for _, rec := range page.Records {
			record := a.toSourceRecord(rec)
			if record.SourceFolderReference == "" {
				continue
			}
			if record.Slug == "" {
				logger.Warn().Str("record_id", rec.ID).Msg("skipping record: no slug or title")
				continue
			}
			records = append(records, record)
		}

		offset = page.Offset
		if offset == "" {
			break
		}
	}

	return records, nil
}

// GetRecord implements Enumerator
func (a *Airtable) GetRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	var rec airtableRecord
	err := a.rest.doJSON(ctx, http.MethodGet, a.tableURL()+"/"+url.PathEscape(id), nil, &rec)
	if isNotFound(err) {
		return nil, errors.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, errors.Errorf("Airtable API error: %w", err)
	}

	record := a.toSourceRecord(rec)
	return &record, nil
}

// UpdateImages implements ImageWriter by patching the configured image field
func (a *Airtable) UpdateImages(ctx context.Context, id string, assets []models.UploadedAsset) error {
	body := map[string]any{
		"fields": map[string]any{
			a.imageField: assets,
		},
	}
	if err := a.rest.doJSON(ctx, http.MethodPatch, a.tableURL()+"/"+url.PathEscape(id), body, nil); err != nil {
		return errors.Errorf("failed to update Airtable record %s: %w", id, err)
	}
	return nil
}

func (a *Airtable) toSourceRecord(rec airtableRecord) models.SourceRecord {
	slug := fieldString(rec.Fields[a.slugField])
	if slug == "" {
		slug = Slugify(fieldString(rec.Fields[a.titleField]))
	}
	return models.SourceRecord{
		ID:                    rec.ID,
		Slug:                  slug,
		SourceFolderReference: fieldString(rec.Fields[a.folderField]),
	}
}
