package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/models"
)

// EndpointLister reads folder listings from a JSON endpoint called with
// ?folder={id}. Downloads are plain GETs of the listed URLs.
type EndpointLister struct {
	endpoint    string
	httpClient  *http.Client
	callTimeout time.Duration
}

// NewEndpointLister creates a lister backed by a JSON listing endpoint
func NewEndpointLister(endpoint string, client *http.Client, callTimeout time.Duration) *EndpointLister {
	if client == nil {
		client = &http.Client{}
	}
	return &EndpointLister{
		endpoint:    endpoint,
		httpClient:  client,
		callTimeout: timeoutOrDefault(callTimeout),
	}
}

// ListFiles implements Lister
func (l *EndpointLister) ListFiles(ctx context.Context, folderID string) ([]models.SourceFile, error) {
	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	defer cancel()

	u, err := url.Parse(l.endpoint)
	if err != nil {
		return nil, errors.Errorf("invalid listing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("folder", folderID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Errorf("failed to create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, errors.Errorf("Drive listing failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusErr("Drive listing failed", resp)
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, errors.Errorf("failed to decode Drive listing: %w", err)
	}

	return imagesSorted(listing.Files), nil
}

// Download implements Lister
func (l *EndpointLister) Download(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	if !strings.HasPrefix(fileID, "http") {
		return nil, "", errors.Errorf("listing entry %s has no download URL", fileID)
	}

	ctx, cancel := context.WithTimeout(ctx, l.callTimeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileID, nil)
	if err != nil {
		cancel()
		return nil, "", errors.Errorf("failed to create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, "", errors.Errorf("Drive image fetch failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer cancel()
		defer resp.Body.Close()
		return nil, "", statusErr("Drive image fetch failed", resp)
	}

	return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header.Get("Content-Type"), nil
}

// listingResponse accepts either a bare JSON array or an object with a
// "files" array. Entries are URL strings or file objects; anything else is
// dropped.
type listingResponse struct {
	Files []models.SourceFile
}

func (l *listingResponse) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var raw []json.RawMessage

	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			Files []json.RawMessage `json:"files"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		raw = obj.Files
	}

	l.Files = l.Files[:0]
	for _, entry := range raw {
		if f, ok := parseListingEntry(entry); ok {
			l.Files = append(l.Files, f)
		}
	}
	return nil
}

func parseListingEntry(entry json.RawMessage) (models.SourceFile, bool) {
	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		if !strings.HasPrefix(s, "http") {
			return models.SourceFile{}, false
		}
		return fileFromURL(s), true
	}

	var obj struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		MimeType    string `json:"mimeType"`
		Md5Checksum string `json:"md5Checksum"`
		URL         string `json:"url"`
	}
	if err := json.Unmarshal(entry, &obj); err != nil {
		return models.SourceFile{}, false
	}
	f := models.SourceFile{
		FileID:      obj.ID,
		Name:        obj.Name,
		MimeType:    obj.MimeType,
		ContentHash: obj.Md5Checksum,
	}
	if obj.URL != "" {
		f.FileID = obj.URL
	}
	if f.FileID == "" {
		return models.SourceFile{}, false
	}
	if f.Name == "" {
		f.Name = fileFromURL(f.FileID).Name
	}
	if f.MimeType == "" {
		f.MimeType = guessImageType(f.Name)
	}
	return f, true
}

// fileFromURL derives a file entry from a bare download URL. The listing
// endpoint only returns images, so unknown extensions stay image/*.
func fileFromURL(raw string) models.SourceFile {
	name := raw
	if u, err := url.Parse(raw); err == nil {
		name = path.Base(u.Path)
		if id := u.Query().Get("id"); id != "" {
			name = id
		}
	}
	return models.SourceFile{
		FileID:   raw,
		Name:     name,
		MimeType: guessImageType(name),
	}
}

func guessImageType(name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/*"
}
