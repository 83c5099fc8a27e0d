package store

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/campaignmaster/campaignmaster/pkg/errors"
	"github.com/campaignmaster/campaignmaster/pkg/utils"
)

// S3Config configures the S3 snapshot backend.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	MaxRetries      int    `yaml:"max_retries"`
	StorageClass    string `yaml:"storage_class"`
	// Route uploads through the cargoship transporter, falling back to PutObject.
	EnableCargoShip bool `yaml:"enable_cargoship"`
}

// S3API is the subset of the S3 client used by S3Backend.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Backend stores each snapshot as one object.
type S3Backend struct {
	api          S3API
	transporter  *cargoships3.Transporter
	bucket       string
	prefix       string
	storageClass string
	logger       *utils.StructuredLogger
}

// NewS3Backend loads AWS configuration and connects to cfg.Bucket.
func NewS3Backend(ctx context.Context, cfg S3Config, logger *utils.StructuredLogger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "s3 store requires a bucket").
			WithComponent("store")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(cfg.MaxRetries),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to load AWS config").
			WithComponent("store")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	b := NewS3BackendWithClient(client, cfg, logger)
	if cfg.EnableCargoShip {
		b.transporter = cargoships3.NewTransporter(client, awsconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoShipStorageClass(cfg.StorageClass),
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        4,
		})
		b.logger.Info("cargoship upload transport enabled", map[string]interface{}{"bucket": cfg.Bucket})
	}
	return b, nil
}

// NewS3BackendWithClient uses an existing client.
func NewS3BackendWithClient(api S3API, cfg S3Config, logger *utils.StructuredLogger) *S3Backend {
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Backend{
		api:          api,
		bucket:       cfg.Bucket,
		prefix:       prefix,
		storageClass: cfg.StorageClass,
		logger:       utils.OrDefault(logger).WithComponent("store.s3"),
	}
}

// Name implements Backend.
func (b *S3Backend) Name() string {
	return BackendS3
}

func (b *S3Backend) objectKey(key string) string {
	return b.prefix + key + snapshotExt
}

// Read implements Backend.
func (b *S3Backend) Read(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		return nil, b.translateError(err, errors.ErrCodeSnapshotRead, "GetObject", key)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, b.translateError(err, errors.ErrCodeSnapshotRead, "GetObject", key)
	}
	return data, nil
}

// Write implements Backend.
func (b *S3Backend) Write(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	objectKey := b.objectKey(key)

	if b.transporter != nil {
		result, err := b.transporter.Upload(ctx, cargoships3.Archive{
			Key:          objectKey,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: cargoShipStorageClass(b.storageClass),
			Metadata: map[string]string{
				"content-type":  "application/json",
				"cache-version": "snapshot",
			},
		})
		if err == nil {
			b.logger.Debug("snapshot uploaded via cargoship", map[string]interface{}{
				"key":        objectKey,
				"size":       len(data),
				"throughput": result.Throughput,
				"duration":   result.Duration,
			})
			return nil
		}
		b.logger.Warn("cargoship upload failed, falling back to PutObject", map[string]interface{}{
			"key":   objectKey,
			"error": err,
		})
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	}
	if b.storageClass != "" {
		input.StorageClass = s3types.StorageClass(b.storageClass)
	}

	if _, err := b.api.PutObject(ctx, input); err != nil {
		return b.translateError(err, errors.ErrCodeSnapshotWrite, "PutObject", key)
	}
	return nil
}

// Delete implements Backend.
func (b *S3Backend) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		translated := b.translateError(err, errors.ErrCodeSnapshotDelete, "DeleteObject", key)
		if IsNotFound(translated) {
			return nil
		}
		return translated
	}
	return nil
}

func (b *S3Backend) translateError(err error, code errors.ErrorCode, operation, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return notFound(BackendS3, key)
	case isErrorType[*s3types.NoSuchBucket](err):
		return errors.Wrap(err, errors.ErrCodeInvalidConfig, "bucket not found").
			WithComponent("store").
			WithContext("bucket", b.bucket)
	case stderrors.Is(err, context.Canceled):
		return errors.Wrap(err, errors.ErrCodeOperationCanceled, operation+" canceled").
			WithComponent("store")
	default:
		return errors.Wrap(err, code, operation+" failed").
			WithComponent("store").
			WithOperation(operation).
			WithContext("key", key)
	}
}

func isErrorType[T error](err error) bool {
	var target T
	return stderrors.As(err, &target)
}

func cargoShipStorageClass(class string) awsconfig.StorageClass {
	switch s3types.StorageClass(class) {
	case s3types.StorageClassStandardIa:
		return awsconfig.StorageClassStandardIA
	case s3types.StorageClassOnezoneIa:
		return awsconfig.StorageClassOneZoneIA
	case s3types.StorageClassIntelligentTiering:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
