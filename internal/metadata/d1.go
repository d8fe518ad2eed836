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

// D1 reads property rows through the D1 REST wrapper
type D1 struct {
	rest     restClient
	apiURL   string
	table    string
	pageSize int
}

type d1Response struct {
	Success bool             `json:"success"`
	Results []map[string]any `json:"results"`
	Error   string           `json:"error,omitempty"`
}

// NewD1 creates a D1 REST enumerator
func NewD1(cfg config.MetadataConfig, opts ...Option) *D1 {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &D1{
		rest:     newRESTClient(cfg.D1Token, opts),
		apiURL:   strings.TrimRight(cfg.D1URL, "/"),
		table:    cfg.D1Table,
		pageSize: pageSize,
	}
}

func (d *D1) tableURL() string {
	return d.apiURL + "/rest/" + url.PathEscape(d.table)
}

func (d *D1) query(ctx context.Context, u string) ([]map[string]any, error) {
	var resp d1Response
	if err := d.rest.doJSON(ctx, http.MethodGet, u, nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "Unknown error"
		}
		return nil, errors.Errorf("D1 REST API query failed: %s", msg)
	}
	return resp.Results, nil
}

// ListRecords implements Enumerator. Pages are requested by limit/offset
// until a short page is returned.
func (d *D1) ListRecords(ctx context.Context) ([]models.SourceRecord, error) {
	logger := zerolog.Ctx(ctx)
	var records []models.SourceRecord

	for offset := 0; ; offset += d.pageSize {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(d.pageSize))
		query.Set("offset", strconv.Itoa(offset))
		query.Set("sort_by", "id")

		rows, err := d.query(ctx, d.tableURL()+"?"+query.Encode())
		if err != nil {
			return nil, errors.Errorf("D1 REST API error: %w", err)
		}

		for _, row := range rows {
			record := toD1Record(row)
			if record.SourceFolderReference == "" {
				continue
			}
			if record.Slug == "" {
				logger.Warn().Str("record_id", record.ID).Msg("skipping record: no slug or title")
				continue
			}
			records = append(records, record)
		}

		if len(rows) < d.pageSize {
			break
		}
	}

	return records, nil
}

// GetRecord implements Enumerator
func (d *D1) GetRecord(ctx context.Context, id string) (*models.SourceRecord, error) {
	rows, err := d.query(ctx, d.tableURL()+"/"+url.PathEscape(id))
	if isNotFound(err) || (err == nil && len(rows) == 0) {
		return nil, errors.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, errors.Errorf("D1 REST API error: %w", err)
	}

	record := toD1Record(rows[0])
	return &record, nil
}

func toD1Record(row map[string]any) models.SourceRecord {
	slug := fieldString(row["slug"])
	if slug == "" {
		slug = Slugify(fieldString(row["title"]))
	}
	return models.SourceRecord{
		ID:                    fieldString(row["id"]),
		Slug:                  slug,
		SourceFolderReference: fieldString(row["image_folder_url"]),
	}
}
