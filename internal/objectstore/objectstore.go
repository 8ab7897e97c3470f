// Package objectstore wraps the object-store capability described in
// spec.md §6: putObject, getObject, listObjects, presignedGetObject,
// removeObject, bucketExists, makeBucket, setBucketPolicy — backed by
// MinIO.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/visiondispatch/core/internal/model"
)

// Images and results are split across two fixed buckets, per spec.md §6's
// "Persisted state".
const (
	ImagesBucket  = "bigdata-images"
	ResultsBucket = "bigdata-results"
)

// Client wraps a MinIO client. An empty endpoint disables the client: every
// call returns model.ErrStorageUnavailable rather than failing a dial.
type Client struct {
	mc      *minio.Client
	enabled bool
}

// Config holds MinIO connection settings, sourced from the MINIO_* env
// variables in spec.md §6.
type Config struct {
	Endpoint  string
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// New constructs a Client. An empty Endpoint disables the client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return &Client{enabled: false}, nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Endpoint, cfg.Port)
	mc, err := minio.New(addr, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{mc: mc, enabled: true}, nil
}

// Enabled reports whether the client is configured.
func (c *Client) Enabled() bool {
	return c.enabled
}

// EnsureBucket creates bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// BucketExists reports whether bucket exists.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if !c.enabled {
		return false, model.ErrStorageUnavailable
	}
	ok, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return ok, nil
}

// MakeBucket creates bucket in the given region.
func (c *Client) MakeBucket(ctx context.Context, bucket, region string) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// SetBucketPolicy installs a raw JSON bucket policy.
func (c *Client) SetBucketPolicy(ctx context.Context, bucket, policyJSON string) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	if err := c.mc.SetBucketPolicy(ctx, bucket, policyJSON); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// PutObject uploads data to bucket/key, creating the bucket if needed.
func (c *Client) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string, metadata map[string]string) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	if err := c.EnsureBucket(ctx, bucket); err != nil {
		return err
	}
	_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// GetObject downloads bucket/key in full.
func (c *Client) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if !c.enabled {
		return nil, model.ErrStorageUnavailable
	}
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return data, nil
}

// ObjectInfo is a minimal listing entry.
type ObjectInfo struct {
	Key  string
	Size int64
}

// ListObjects lists objects in bucket under prefix.
func (c *Client) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if !c.enabled {
		return nil, model.ErrStorageUnavailable
	}
	ch := c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true})
	var out []ObjectInfo
	for obj := range ch {
		if obj.Err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, obj.Err)
		}
		out = append(out, ObjectInfo{Key: obj.Key, Size: obj.Size})
	}
	return out, nil
}

// PresignedGetObject returns a time-limited download URL for bucket/key.
func (c *Client) PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	if !c.enabled {
		return "", model.ErrStorageUnavailable
	}
	u, err := c.mc.PresignedGetObject(ctx, bucket, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return u.String(), nil
}

// HealthPing checks MinIO reachability by listing buckets, satisfying
// health.HealthPinger. A disabled client is reported unhealthy rather
// than silently skipped — callers that wire object storage expect it up.
func (c *Client) HealthPing(ctx context.Context) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	if _, err := c.mc.ListBuckets(ctx); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}

// RemoveObject deletes bucket/key.
func (c *Client) RemoveObject(ctx context.Context, bucket, key string) error {
	if !c.enabled {
		return model.ErrStorageUnavailable
	}
	if err := c.mc.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
	}
	return nil
}
