// Package storage uploads rendered reports to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"astro-bot/internal/config"
	"astro-bot/internal/models"
)

type putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store stores blobs under <prefix>/<owner>/<kind>_<unix>_<uuid>.pdf and
// returns a public URL for them.
type S3Store struct {
	client  putter
	bucket  string
	prefix  string
	baseURL string
	now     func() time.Time
}

func NewS3Store(ctx context.Context, cfg config.S3) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)))
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg), nil
}

func newS3Store(client putter, cfg config.S3) *S3Store {
	base := strings.TrimRight(cfg.PublicBaseURL, "/")
	if base == "" {
		if cfg.EndpointURL != "" {
			base = strings.TrimRight(cfg.EndpointURL, "/") + "/" + cfg.Bucket
		} else {
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
		}
	}

	return &S3Store{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		baseURL: base,
		now:     time.Now,
	}
}

// Put uploads a PDF owned by ownerID and returns its public URL.
func (s *S3Store) Put(ctx context.Context, ownerID int64, kind models.ProductKind, data []byte) (string, error) {
	key := s.objectKey(ownerID, kind)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(data),
		ContentType:        aws.String("application/pdf"),
		ContentDisposition: aws.String(fmt.Sprintf("attachment; filename=%q", fileName(kind))),
		ContentLength:      aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"tg-id":        fmt.Sprintf("%d", ownerID),
			"product-kind": string(kind),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	return s.publicURL(key), nil
}

// objectKey starts the file name with the product's file prefix, which is what
// Telegram shows for a document fetched by URL.
func (s *S3Store) objectKey(ownerID int64, kind models.ProductKind) string {
	name := fmt.Sprintf("%s_%d_%s.pdf", filePrefix(kind), s.now().Unix(), uuid.New().String()[:8])
	return path.Join(s.prefix, fmt.Sprintf("%d", ownerID), name)
}

func filePrefix(kind models.ProductKind) string {
	if p, ok := kind.Lookup(); ok && p.FilePrefix != "" {
		return p.FilePrefix
	}
	return string(kind)
}

func fileName(kind models.ProductKind) string {
	return filePrefix(kind) + ".pdf"
}

func (s *S3Store) publicURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL + "/" + strings.Join(segments, "/")
}
