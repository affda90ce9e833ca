package services

import (
	"context"
	"fmt"
	"iter"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/ytaudio/internal/models"
	"github.com/desertthunder/ytaudio/internal/shared"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements [models.ObjectStore] on a MinIO or S3 compatible bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
	logger *log.Logger
}

var _ models.ObjectStore = (*MinioStore)(nil)

// StorageStats summarises the bucket contents.
type StorageStats struct {
	Bucket     string `json:"bucket"`
	Objects    int    `json:"objects"`
	TotalBytes int64  `json:"total_bytes"`
}

// NewMinioStore connects to the configured endpoint with static credentials.
func NewMinioStore(cfg shared.StorageConfig, logger *log.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return NewMinioStoreWithClient(client, cfg.Bucket, cfg.Region, logger), nil
}

// NewMinioStoreWithClient wraps an existing client.
func NewMinioStoreWithClient(client *minio.Client, bucket, region string, logger *log.Logger) *MinioStore {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &MinioStore{client: client, bucket: bucket, region: region, logger: logger}
}

// Bucket returns the bucket name.
func (s *MinioStore) Bucket() string { return s.bucket }

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("created bucket", "bucket", s.bucket)
	return nil
}

// Exists reports whether key is stored. Only a definite "no such key" answer yields false;
// any other failure is returned as an error.
func (s *MinioStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMissing(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object %s: %w", key, err)
}

// Put uploads the file at path under key, overwriting any existing object.
func (s *MinioStore) Put(ctx context.Context, key, path string, metadata map[string]string) (models.ObjectInfo, error) {
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	info, err := s.client.FPutObject(ctx, s.bucket, key, path, minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: metadata,
	})
	if err != nil {
		return models.ObjectInfo{}, fmt.Errorf("%w: %s: %w", shared.ErrUploadFailed, key, err)
	}

	return models.ObjectInfo{
		Key:          key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  contentType,
		LastModified: info.LastModified,
		Metadata:     metadata,
	}, nil
}

// Stat returns the stored object's info, or [shared.ErrObjectMissing].
func (s *MinioStore) Stat(ctx context.Context, key string) (models.ObjectInfo, error) {
	obj, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isMissing(err) {
			return models.ObjectInfo{}, fmt.Errorf("%w: %s", shared.ErrObjectMissing, key)
		}
		return models.ObjectInfo{}, fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return objectInfo(obj), nil
}

// List yields every object under prefix.
func (s *MinioStore) List(ctx context.Context, prefix string) iter.Seq2[models.ObjectInfo, error] {
	return func(yield func(models.ObjectInfo, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
			if obj.Err != nil {
				yield(models.ObjectInfo{}, fmt.Errorf("failed to list objects: %w", obj.Err))
				return
			}
			if !yield(objectInfo(obj), nil) {
				return
			}
		}
	}
}

// Stats counts objects and bytes under prefix.
func (s *MinioStore) Stats(ctx context.Context, prefix string) (StorageStats, error) {
	stats := StorageStats{Bucket: s.bucket}
	for obj, err := range s.List(ctx, prefix) {
		if err != nil {
			return stats, err
		}
		stats.Objects++
		stats.TotalBytes += obj.Size
	}
	return stats, nil
}

// Ping checks that the endpoint answers and the bucket is reachable.
func (s *MinioStore) Ping(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("object store unavailable: %w", err)
	}
	return nil
}

func objectInfo(obj minio.ObjectInfo) models.ObjectInfo {
	return models.ObjectInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		ETag:         obj.ETag,
		ContentType:  obj.ContentType,
		LastModified: obj.LastModified,
		Metadata:     obj.UserMetadata,
	}
}

func isMissing(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket")
}
