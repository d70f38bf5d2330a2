package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type MinioStore struct {
	minio  *minio.Client
	bucket string
}

func NewMinioStore(cfg Config) (*MinioStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Access, cfg.Secret, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinioStore{
		minio:  mc,
		bucket: cfg.Bucket,
	}, nil
}

func (c *MinioStore) Bucket() string {
	return c.bucket
}

func (c *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := c.minio.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket existence: %w", err)
	}
	if exists {
		return nil
	}

	if err := c.minio.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		exists, checkErr := c.minio.BucketExists(ctx, c.bucket)
		if checkErr == nil && exists {
			return nil
		}
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}

	return nil
}

func (c *MinioStore) ObjectExists(ctx context.Context, objectKey string) (bool, error) {
	_, err := c.minio.StatObject(ctx, c.bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isMinioNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", objectKey, err)
}

// ReadObject returns ErrNotFound for a missing key. minio defers the request
// until the first read, so the not-found check happens on ReadAll.
func (c *MinioStore) ReadObject(ctx context.Context, objectKey string) ([]byte, error) {
	obj, err := c.minio.GetObject(ctx, c.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, classifyMinioRead(objectKey, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, classifyMinioRead(objectKey, err)
	}
	return data, nil
}

func (c *MinioStore) PutObject(ctx context.Context, objectKey string, obj Object) (PutResult, error) {
	info, err := c.minio.PutObject(
		ctx,
		c.bucket,
		objectKey,
		bytes.NewReader(obj.Data),
		int64(len(obj.Data)),
		minio.PutObjectOptions{
			ContentType:  obj.ContentType,
			CacheControl: obj.CacheControl,
		},
	)
	if err != nil {
		return PutResult{}, fmt.Errorf("put object %s: %w", objectKey, err)
	}
	return PutResult{ETag: info.ETag}, nil
}

func classifyMinioRead(objectKey string, err error) error {
	if isMinioNotFound(err) {
		return fmt.Errorf("get object %s: %w", objectKey, ErrNotFound)
	}
	return fmt.Errorf("get object %s: %w", objectKey, err)
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchObject", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
