package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	DriverMinio = "minio"
	DriverS3    = "s3"
)

var ErrNotFound = errors.New("object not found")

type Config struct {
	Driver   string
	Endpoint string
	Region   string
	Access   string
	Secret   string
	Bucket   string
	UseSSL   bool
}

// Object is a stored blob plus the HTTP metadata served with it.
type Object struct {
	Data         []byte
	ContentType  string
	CacheControl string
}

type PutResult struct {
	ETag string
}

// ObjectStore is a single bucket. PutObject overwrites an existing key.
type ObjectStore interface {
	ReadObject(ctx context.Context, objectKey string) ([]byte, error)
	PutObject(ctx context.Context, objectKey string, obj Object) (PutResult, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
	EnsureBucket(ctx context.Context) error
	Bucket() string
}

func New(ctx context.Context, cfg Config) (ObjectStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMinio:
		return NewMinioStore(cfg)
	case DriverS3:
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}
