package store

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
)

// MinIOConfig configures the MinIO snapshot backend.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// MinIOBackend stores each snapshot as one object in a MinIO bucket.
type MinIOBackend struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinIOBackend creates a client for cfg.Endpoint.
func NewMinIOBackend(cfg MinIOConfig) (*MinIOBackend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "minio store requires endpoint and bucket").
			WithComponent("store")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidConfig, "failed to create minio client").
			WithComponent("store")
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &MinIOBackend{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

// Name implements Backend.
func (b *MinIOBackend) Name() string {
	return BackendMinIO
}

// Read implements Backend.
func (b *MinIOBackend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	obj, err := b.client.GetObject(ctx, b.bucket, b.prefix+key+snapshotExt, minio.GetObjectOptions{})
	if err != nil {
		return nil, translateMinIOError(err, errors.ErrCodeSnapshotRead, key)
	}
	defer func() {
		_ = obj.Close()
	}()

	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, translateMinIOError(err, errors.ErrCodeSnapshotRead, key)
	}
	return data, nil
}

// Write implements Backend.
func (b *MinIOBackend) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := b.client.PutObject(ctx, b.bucket, b.prefix+key+snapshotExt,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return translateMinIOError(err, errors.ErrCodeSnapshotWrite, key)
	}
	return nil
}

// Delete implements Backend.
func (b *MinIOBackend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	err := b.client.RemoveObject(ctx, b.bucket, b.prefix+key+snapshotExt, minio.RemoveObjectOptions{})
	if err != nil {
		translated := translateMinIOError(err, errors.ErrCodeSnapshotDelete, key)
		if IsNotFound(translated) {
			return nil
		}
		return translated
	}
	return nil
}

func translateMinIOError(err error, code errors.ErrorCode, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey":
		return notFound(BackendMinIO, key)
	case "NoSuchBucket":
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "bucket not found").
			WithComponent("store")
	case "AccessDenied":
		return errors.Wrap(err, code, "access denied").
			WithComponent("store").
			WithRetryable(false)
	}
	return errors.Wrap(err, code, "minio request failed").
		WithComponent("store").
		WithContext("key", key)
}
