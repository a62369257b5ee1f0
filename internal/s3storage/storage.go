// Package s3storage stores file bytes in a versioned MinIO/S3 bucket. Every
// write to a key produces a new object version; callers address versions by
// the id the store returns.
package s3storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dharsanguruparan/datavault/internal/config"
)

// ErrNotFound is returned by Get when the key or version does not exist.
var ErrNotFound = errors.New("object not found")

// Storage wraps the MinIO client for one bucket.
type Storage struct {
	client    *minio.Client
	bucket    string
	region    string
	partBytes uint64
}

// New creates a MinIO client from the Config.
func New(cfg *config.Config) (*Storage, error) {
	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Region: cfg.S3Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{
		client:    client,
		bucket:    cfg.Bucket,
		region:    cfg.S3Region,
		partBytes: uint64(cfg.UploadChunkBytes),
	}, nil
}

// EnsureBucket creates the bucket when missing and turns versioning on.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	if err := s.client.EnableVersioning(ctx, s.bucket); err != nil {
		return fmt.Errorf("enable versioning on %s: %w", s.bucket, err)
	}
	return nil
}

// Ping checks the bucket is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

// Put streams r to key as a multipart upload of the configured part size and
// returns the new version id and the number of bytes written.
func (s *Storage) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, int64, error) {
	opts := minio.PutObjectOptions{ContentType: contentType, PartSize: s.partBytes}
	info, err := s.client.PutObject(ctx, s.bucket, key, r, -1, opts)
	if err != nil {
		return "", 0, fmt.Errorf("put object %s: %w", key, err)
	}
	if info.VersionID == "" {
		// S3 names the single version of an unversioned object "null".
		return "null", info.Size, nil
	}
	return info.VersionID, info.Size, nil
}

// Get opens a version of key. An empty versionID reads the latest version.
func (s *Storage) Get(ctx context.Context, key, versionID string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{VersionID: versionID})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	// GetObject is lazy; Stat surfaces a missing key before the caller reads.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNotFound(err) {
			return nil, fmt.Errorf("object %s version %q: %w", key, versionID, ErrNotFound)
		}
		return nil, fmt.Errorf("stat object %s: %w", key, err)
	}
	return obj, nil
}

// Remove deletes exactly one version of key. A missing version is not an
// error.
func (s *Storage) Remove(ctx context.Context, key, versionID string) error {
	err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove object %s version %s: %w", key, versionID, err)
	}
	return nil
}

// RemoveAll deletes every version and delete marker stored under key and
// reports how many were removed.
func (s *Storage) RemoveAll(ctx context.Context, key string) (int, error) {
	objects := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:       key,
		WithVersions: true,
	})
	removed := 0
	for obj := range objects {
		if obj.Err != nil {
			return removed, fmt.Errorf("list versions of %s: %w", key, obj.Err)
		}
		if obj.Key != key {
			continue
		}
		if err := s.Remove(ctx, key, obj.VersionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// PresignGet returns a signed GET URL for one version of key.
func (s *Storage) PresignGet(ctx context.Context, key, versionID string, expiry time.Duration) (string, error) {
	params := url.Values{}
	if versionID != "" {
		params.Set("versionId", versionID)
	}
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign object %s: %w", key, err)
	}
	return u.String(), nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" || resp.Code == "NoSuchVersion"
}
