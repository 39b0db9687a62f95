package s3

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mosajjal/authhec/pkg/models"
	"github.com/mosajjal/authhec/pkg/storage"
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// putObjectAPI is the subset of the S3 client used for archiving
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Storage implements S3 backend for storage
type Storage struct {
	config    storage.StorageConfig
	client    putObjectAPI
	bucket    string
	keyPrefix string
	logger    *zap.Logger
	now       func() time.Time
}

// NewStorage creates a new S3 storage backend
func NewStorage(cfg storage.StorageConfig, awsCfg aws.Config, logger *zap.Logger) (*Storage, error) {
	return newStorage(cfg, s3.NewFromConfig(awsCfg), logger)
}

func newStorage(cfg storage.StorageConfig, client putObjectAPI, logger *zap.Logger) (*Storage, error) {
	bucket, keyPrefix, err := parseBucketURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Storage{
		config:    cfg,
		client:    client,
		bucket:    bucket,
		keyPrefix: keyPrefix,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// parseBucketURL accepts virtual-hosted-style (bucket.s3.region.amazonaws.com/prefix),
// path-style (s3.region.amazonaws.com/bucket/prefix) and s3://bucket/prefix URLs
func parseBucketURL(raw string) (bucket, keyPrefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL: %w", err)
	}

	switch {
	case u.Scheme == "s3":
		bucket = u.Host
		keyPrefix = strings.Trim(u.Path, "/")
	case strings.Contains(u.Host, ".s3.") || strings.Contains(u.Host, ".s3-"):
		bucket = strings.Split(u.Host, ".")[0]
		keyPrefix = strings.Trim(u.Path, "/")
	default:
		pathParts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
		bucket = pathParts[0]
		if len(pathParts) > 1 {
			keyPrefix = pathParts[1]
		}
	}

	if bucket == "" {
		return "", "", fmt.Errorf("could not parse bucket name from URL: %s", raw)
	}
	return bucket, keyPrefix, nil
}

// objectKey is prefix/integration/yyyy/mm/dd/hh/<timestamp>-<uuid>.json[.gz]
func (s *Storage) objectKey(integration string) string {
	now := s.now().UTC()
	ext := ".json.gz"
	if s.config.CompressionType == "none" {
		ext = ".json"
	}
	name := unsafeKeyChars.ReplaceAllString(integration, "-")
	if name == "" {
		name = "unknown"
	}
	key := fmt.Sprintf("%s/%d/%02d/%02d/%02d/%s-%s%s",
		name,
		now.Year(),
		now.Month(),
		now.Day(),
		now.Hour(),
		now.Format("2006-01-02T15:04:05.000Z"),
		uuid.New().String(),
		ext,
	)
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + "/" + key
}

// Store uploads events as one newline-delimited JSON object
func (s *Storage) Store(ctx context.Context, integration string, events []models.AuthEvent) error {
	if len(events) == 0 {
		return nil
	}

	body, err := storage.EncodeNDJSON(events, s.config.CompressionType)
	if err != nil {
		return err
	}

	key := s.objectKey(integration)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	}
	if s.config.CompressionType != "none" {
		input.ContentEncoding = aws.String("gzip")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}

	s.logger.Info("stored events to S3",
		zap.Int("events", len(events)),
		zap.String("bucket", s.bucket),
		zap.String("key", key),
	)
	return nil
}

// Close cleans up resources
func (s *Storage) Close() error {
	return nil
}
