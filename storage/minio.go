package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"UsefulTimer/config"
	"UsefulTimer/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioKV 每个键对应存储桶中的一个对象 <prefix><key>.json
type MinioKV struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioKV 连接 MinIO，存储桶不存在时创建
func NewMinioKV(ctx context.Context, cfg *config.Config) (*MinioKV, error) {
	logger.Info("正在连接 MinIO 服务器...",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("成功创建存储桶", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioKV{client: client, bucket: cfg.MinioBucket, prefix: "kv/"}, nil
}

func (m *MinioKV) objectName(key string) string {
	return m.prefix + key + ".json"
}

func (m *MinioKV) Get(ctx context.Context, key string) (string, bool, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.objectName(key), minio.GetObjectOptions{})
	if err != nil {
		return "", false, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	defer obj.Close()

	raw, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read object %s: %w", key, err)
	}
	return string(raw), true, nil
}

func (m *MinioKV) Set(ctx context.Context, key, value string) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.objectName(key),
		strings.NewReader(value), int64(len(value)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

func (m *MinioKV) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.objectName(key), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("failed to remove object %s: %w", key, err)
	}
	return nil
}

func (m *MinioKV) Ping(ctx context.Context) error {
	if _, err := m.client.BucketExists(ctx, m.bucket); err != nil {
		return fmt.Errorf("minio ping failed: %w", err)
	}
	return nil
}

// BucketStats 存储桶中键值对象的统计
type BucketStats struct {
	TotalObjects int64
	TotalSize    int64
	LastModified time.Time
}

// Stats 统计 kv/ 前缀下的对象
func (m *MinioKV) Stats(ctx context.Context) (BucketStats, error) {
	var stats BucketStats
	for object := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Prefix: m.prefix, Recursive: true}) {
		if object.Err != nil {
			return stats, fmt.Errorf("failed to list objects: %w", object.Err)
		}
		stats.TotalObjects++
		stats.TotalSize += object.Size
		if object.LastModified.After(stats.LastModified) {
			stats.LastModified = object.LastModified
		}
	}
	return stats, nil
}
