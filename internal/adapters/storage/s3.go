// internal/adapters/storage/s3.go
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/stocklens/countd/internal/core/ports"
)

// S3Config carries the bucket settings. Endpoint and UsePathStyle exist for
// MinIO, which is what count events in warehouses without internet run.
type S3Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string
	UsePathStyle    bool
}

// S3PhotoStore keeps photo proofs in S3. Objects are small JPEGs keyed
// session-first so the orphan sweeper can list a whole session with one
// prefix.
type S3PhotoStore struct {
	client     *s3.Client
	uploader   *manager.Uploader
	downloader *manager.Downloader
	bucket     string
	region     string
	logger     *slog.Logger
}

var _ ports.PhotoStore = (*S3PhotoStore)(nil)

// NewS3PhotoStore connects to S3 and creates the bucket if it does not exist
// yet, which is the normal first-boot path against MinIO.
func NewS3PhotoStore(ctx context.Context, cfg *S3Config, logger *slog.Logger) (*S3PhotoStore, error) {
	awsCfg, err := awsConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.EndpointResolver = s3.EndpointResolverFromURL(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	store := &S3PhotoStore{
		client:     client,
		uploader:   manager.NewUploader(client),
		downloader: manager.NewDownloader(client),
		bucket:     cfg.Bucket,
		region:     cfg.Region,
		logger:     logger.With(slog.String("storage", "s3")),
	}

	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}

	store.logger.Info("photo store ready",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region))
	return store, nil
}

func awsConfig(ctx context.Context, cfg *S3Config) (aws.Config, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	return config.LoadDefaultConfig(ctx, opts...)
}

func (s *S3PhotoStore) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err == nil {
		return nil
	}

	_, createErr := s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
		CreateBucketConfiguration: &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		},
	})
	if createErr != nil {
		return fmt.Errorf("bucket %s missing and could not be created: %w", s.bucket, createErr)
	}

	s.logger.Info("created bucket", slog.String("bucket", s.bucket))
	return nil
}

// Upload stores a photo and returns its object key. Content type is guessed
// from the key's extension when the scanner app does not send one.
func (s *S3PhotoStore) Upload(ctx context.Context, key string, data io.Reader, contentType string) (string, error) {
	if contentType == "" {
		if contentType = mime.TypeByExtension(filepath.Ext(key)); contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	result, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"uploaded-at": time.Now().Format(time.RFC3339),
			"upload-id":   uuid.New().String(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}

	s.logger.InfoContext(ctx, "photo uploaded",
		slog.String("key", key),
		slog.String("location", result.Location))
	return key, nil
}

// Download retrieves a photo's bytes.
func (s *S3PhotoStore) Download(ctx context.Context, key string) ([]byte, error) {
	buf := manager.NewWriteAtBuffer([]byte{})

	_, err := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("download photo: %w", err)
	}

	s.logger.DebugContext(ctx, "photo downloaded",
		slog.String("key", key),
		slog.Int("size", len(buf.Bytes())))
	return buf.Bytes(), nil
}

// Delete removes one photo object.
func (s *S3PhotoStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete photo: %w", err)
	}

	s.logger.InfoContext(ctx, "photo deleted", slog.String("key", key))
	return nil
}

// List returns all photo keys under a prefix. The orphan sweeper lists
// per-session prefixes to find objects whose draft never submitted.
func (s *S3PhotoStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list photos: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	s.logger.DebugContext(ctx, "listed photos",
		slog.String("prefix", prefix),
		slog.Int("count", len(keys)))
	return keys, nil
}

// DeleteMultiple removes a batch of photo objects with one request.
func (s *S3PhotoStore) DeleteMultiple(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, key := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(key)})
	}

	_, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{
			Objects: objects,
			Quiet:   true,
		},
	})
	if err != nil {
		return fmt.Errorf("delete photos: %w", err)
	}

	s.logger.InfoContext(ctx, "photos deleted", slog.Int("count", len(keys)))
	return nil
}
