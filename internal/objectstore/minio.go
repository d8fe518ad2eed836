package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// Minio implements Store using minio-go against R2 or any S3-compatible endpoint
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio creates a minio-go backed store. The endpoint may be given with
// or without a scheme; plain http disables TLS.
func NewMinio(cfg config.DestinationConfig) (*Minio, error) {
	host, secure := splitEndpoint(cfg.Endpoint)

	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.Errorf("failed to initialize MinIO client: %w", err)
	}

	return &Minio{client: client, bucket: cfg.Bucket}, nil
}

func splitEndpoint(endpoint string) (host string, secure bool) {
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), true
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint, true
	}
	return u.Host, u.Scheme != "http"
}

// Head implements Store
func (m *Minio) Head(ctx context.Context, key string) (*models.ObjectMeta, error) {
	info, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
			return nil, ErrNotFound
		}
		return nil, errors.Errorf("failed to stat object %s: %w", key, err)
	}

	return metaFromCustom(info.UserMetadata, info.ContentType, info.Size), nil
}

// Put implements Store
func (m *Minio) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, meta map[string]string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, body, size, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: meta,
	})
	if err != nil {
		return errors.Errorf("failed to upload object %s: %w", key, err)
	}
	return nil
}
