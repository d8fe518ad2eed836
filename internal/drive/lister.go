package drive

import (
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

const defaultCallTimeout = 30 * time.Second

// Lister enumerates and downloads the files of a source folder
type Lister interface {
	// ListFiles returns the image files directly inside folderID, sorted by
	// name.
	ListFiles(ctx context.Context, folderID string) ([]models.SourceFile, error)
	// Download opens the content of a file. The caller closes the reader.
	Download(ctx context.Context, fileID string) (io.ReadCloser, string, error)
}

// NewLister creates the lister selected by configuration. A configured
// listing endpoint takes precedence over direct Drive API access.
func NewLister(ctx context.Context, cfg config.SourceConfig, callTimeout time.Duration) (Lister, error) {
	if cfg.ListEndpoint != "" {
		return NewEndpointLister(cfg.ListEndpoint, &http.Client{}, callTimeout), nil
	}
	return NewAPILister(ctx, cfg, callTimeout)
}

// imagesSorted keeps entries whose MIME type is image/* and orders them by
// name using plain byte-wise comparison.
func imagesSorted(files []models.SourceFile) []models.SourceFile {
	images := make([]models.SourceFile, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.MimeType, "image/") {
			images = append(images, f)
		}
	}
	sort.SliceStable(images, func(i, j int) bool {
		return images[i].Name < images[j].Name
	})
	return images
}

// cancelOnClose releases a per-call context once the body has been consumed
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func timeoutOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultCallTimeout
	}
	return d
}

func statusErr(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return errors.Errorf("%s: %d - %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}
