package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ethpandaops/teamspace/pkg/config"
	"github.com/sirupsen/logrus"
)

// Compile-time interface check.
var _ Backend = (*s3Backend)(nil)

// presignCacheEntry holds a cached presigned URL and its expiration time.
type presignCacheEntry struct {
	url       string
	expiresAt time.Time
}

type s3Backend struct {
	log           logrus.FieldLogger
	cfg           *config.APIS3Config
	client        *s3.Client
	presignClient *s3.PresignClient
	expiry        time.Duration
	cacheTTL      time.Duration
	mu            sync.RWMutex
	cache         map[string]presignCacheEntry
}

// NewS3Backend creates a Backend on S3-compatible storage. Downloads are
// served as presigned GET URLs.
func NewS3Backend(
	log logrus.FieldLogger,
	cfg *config.APIS3Config,
) (Backend, error) {
	return newS3Backend(log, cfg)
}

func newS3Backend(
	log logrus.FieldLogger,
	cfg *config.APIS3Config,
) (*s3Backend, error) {
	expiry, err := time.ParseDuration(cfg.PresignedURLs.Expiry)
	if err != nil {
		return nil, fmt.Errorf("parsing presigned_urls.expiry: %w", err)
	}

	client := newS3Client(cfg)

	return &s3Backend{
		log:           log.WithField("component", "s3-storage"),
		cfg:           cfg,
		client:        client,
		presignClient: s3.NewPresignClient(client),
		expiry:        expiry,
		cacheTTL:      expiry / 2,
		cache:         make(map[string]presignCacheEntry),
	}, nil
}

func (b *s3Backend) objectKey(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	prefix := strings.Trim(b.cfg.Prefix, "/")
	if prefix == "" {
		return key, nil
	}

	return prefix + "/" + key, nil
}

func (b *s3Backend) Put(
	ctx context.Context, key string, body io.Reader, size int64, contentType string,
) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return err
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(objectKey),
		Body:   body,
	}

	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading s3://%s/%s: %w", b.cfg.Bucket, objectKey, err)
	}

	return nil
}

func (b *s3Backend) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return nil, err
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("getting object %q: %w", objectKey, err)
	}

	return out.Body, nil
}

func (b *s3Backend) Delete(ctx context.Context, key string) error {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return err
	}

	if _, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(objectKey),
	}); err != nil && !isS3NotFound(err) {
		return fmt.Errorf("deleting object %q: %w", objectKey, err)
	}

	b.mu.Lock()
	delete(b.cache, objectKey)
	b.mu.Unlock()

	return nil
}

// URL returns a presigned GET URL. Results are cached for half the
// presign expiry so a handed-out URL always has time left to run.
func (b *s3Backend) URL(ctx context.Context, key string) (string, error) {
	objectKey, err := b.objectKey(key)
	if err != nil {
		return "", err
	}

	now := time.Now()

	b.mu.RLock()
	if entry, ok := b.cache[objectKey]; ok && now.Before(entry.expiresAt) {
		b.mu.RUnlock()

		return entry.url, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if entry, ok := b.cache[objectKey]; ok && now.Before(entry.expiresAt) {
		return entry.url, nil
	}

	result, err := b.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(objectKey),
	}, s3.WithPresignExpires(b.expiry))
	if err != nil {
		return "", fmt.Errorf("presigning URL for %q: %w", objectKey, err)
	}

	b.cache[objectKey] = presignCacheEntry{
		url:       result.URL,
		expiresAt: now.Add(b.cacheTTL),
	}

	return result.URL, nil
}

func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	return strings.Contains(err.Error(), "NoSuchKey")
}

func newS3Client(cfg *config.APIS3Config) *s3.Client {
	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	return s3.New(s3.Options{}, opts...)
}
