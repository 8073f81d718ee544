package objectstore

import (
	"bytes"
	"context"
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

func EnsureBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := ensureBucket(ctx, client, cfg.BucketOutputs, cfg.Region); err != nil {
		return fmt.Errorf("ensure outputs bucket: %w", err)
	}
	if err := ensureBucket(ctx, client, cfg.BucketMedia, cfg.Region); err != nil {
		return fmt.Errorf("ensure media bucket: %w", err)
	}
	return nil
}

func CheckBuckets(ctx context.Context, client *minio.Client, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	outputsExists, err := client.BucketExists(ctx, cfg.BucketOutputs)
	if err != nil {
		return fmt.Errorf("outputs bucket exists: %w", err)
	}
	if !outputsExists {
		return fmt.Errorf("outputs bucket missing: %s", cfg.BucketOutputs)
	}

	mediaExists, err := client.BucketExists(ctx, cfg.BucketMedia)
	if err != nil {
		return fmt.Errorf("media bucket exists: %w", err)
	}
	if !mediaExists {
		return fmt.Errorf("media bucket missing: %s", cfg.BucketMedia)
	}
	return nil
}

// PutJSON stores a JSON document under key in the outputs bucket.
func PutJSON(ctx context.Context, client *minio.Client, bucket, key string, body []byte) error {
	_, err := client.PutObject(ctx, bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket string, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
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
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
