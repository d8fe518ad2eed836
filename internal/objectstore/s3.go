package objectstore

import (
	"context"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"gitlab.com/tozd/go/errors"

	"github.com/leaselab/image-sync/internal/config"
	"github.com/leaselab/image-sync/internal/models"
)

// S3 implements Store against R2 (or any S3-compatible endpoint) using aws-sdk-go
type S3 struct {
	client s3iface.S3API
	bucket string
}

// NewS3 creates an S3 store
func NewS3(cfg config.DestinationConfig) (*S3, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.Region),
		Credentials:      credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}

	// R2 and local S3 emulators are always addressed through a custom endpoint
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, errors.Errorf("failed to create AWS session: %w", err)
	}

	return NewS3WithClient(s3.New(sess), cfg.Bucket), nil
}

// NewS3WithClient wraps an existing S3 API client
func NewS3WithClient(client s3iface.S3API, bucket string) *S3 {
	return &S3{client: client, bucket: bucket}
}

// Head implements Store
func (s *S3) Head(ctx context.Context, key string) (*models.ObjectMeta, error) {
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, errors.Errorf("failed to head object %s: %w", key, err)
	}

	return metaFromCustom(aws.StringValueMap(out.Metadata), aws.StringValue(out.ContentType), aws.Int64Value(out.ContentLength)), nil
}

// Put implements Store
func (s *S3) Put(ctx context.Context, key string, body io.ReadSeeker, size int64, contentType string, meta map[string]string) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
		Metadata:      aws.StringMap(meta),
	})
	if err != nil {
		return errors.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}
