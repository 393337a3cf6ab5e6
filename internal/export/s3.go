package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"gearshare/internal/config"
)

// S3Uploader stores reports in an S3-compatible bucket.
type S3Uploader struct {
	client   *minio.Client
	bucket   string
	prefix   string
	endpoint string
	secure   bool
	logger   zerolog.Logger

	bucketOnce sync.Once
	bucketErr  error
}

func NewS3Uploader(cfg config.S3Config, logger *zerolog.Logger) (*S3Uploader, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("s3: endpoint is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}
	if parsed, err := url.Parse(endpoint); err == nil && parsed.Host != "" {
		endpoint = parsed.Host
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(strings.TrimSpace(cfg.AccessKey), strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: create client: %w", err)
	}

	return &S3Uploader{
		client:   client,
		bucket:   bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		endpoint: endpoint,
		secure:   cfg.UseSSL,
		logger:   logger.With().Str("component", "s3").Logger(),
	}, nil
}

// Upload puts the object under the configured prefix and returns its URL.
func (u *S3Uploader) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return "", errors.New("s3: object key is required")
	}
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}
	if err := u.ensureBucket(ctx); err != nil {
		return "", err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := u.client.PutObject(ctx, u.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("s3: put object: %w", err)
	}

	objectURL := u.objectURL(key)
	u.logger.Info().Str("bucket", u.bucket).Str("key", key).Msg("Report uploaded")
	return objectURL, nil
}

func (u *S3Uploader) ensureBucket(ctx context.Context) error {
	u.bucketOnce.Do(func() {
		exists, err := u.client.BucketExists(ctx, u.bucket)
		if err != nil {
			u.bucketErr = fmt.Errorf("s3: check bucket: %w", err)
			return
		}
		if exists {
			return
		}
		if err := u.client.MakeBucket(ctx, u.bucket, minio.MakeBucketOptions{}); err != nil {
			u.bucketErr = fmt.Errorf("s3: create bucket: %w", err)
		}
	})
	return u.bucketErr
}

func (u *S3Uploader) objectURL(key string) string {
	scheme := "http"
	if u.secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, u.endpoint, u.bucket, key)
}
