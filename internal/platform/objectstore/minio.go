package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	}
	return minio.New(cfg.Endpoint, opts)
}

// ContentArchive keeps a copy of rendered outreach content for later review.
type ContentArchive struct {
	client *minio.Client
	bucket string
	region string
}

func NewContentArchive(client *minio.Client, cfg Config) (*ContentArchive, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ContentArchive{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

func (a *ContentArchive) Put(ctx context.Context, key string, content []byte, contentType string) error {
	if a == nil || a.client == nil {
		return errors.New("content archive not initialized")
	}
	if key == "" {
		return errors.New("object key is required")
	}
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}

func (a *ContentArchive) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Check backs the readiness probe.
func (a *ContentArchive) Check(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket missing: %s", a.bucket)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
