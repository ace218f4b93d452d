package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"dealerscan/config"
	"dealerscan/models"
)

// S3Archiver writes a JSON copy of every finished cycle, and mirrored
// listing images, to S3-compatible storage.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

func NewS3Archiver(ctx context.Context, cfg config.S3Config) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		// DO Spaces, R2, MinIO
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// ArchiveKey is <prefix>/YYYY/MM/DD/<runID>.json, dated by run start in UTC.
func ArchiveKey(prefix string, startedAt time.Time, runID string) string {
	return path.Join(prefix, startedAt.UTC().Format("2006/01/02"), runID+".json")
}

type archiveDocument struct {
	Run      *models.ScanRun      `json:"run"`
	Result   *models.ScrapeResult `json:"result"`
	Listings []models.Listing     `json:"listings"`
}

func encodeArchive(run *models.ScanRun, res *models.ScrapeResult, listings []models.Listing) ([]byte, error) {
	return json.MarshalIndent(archiveDocument{Run: run, Result: res, Listings: listings}, "", "  ")
}

func (a *S3Archiver) Archive(ctx context.Context, run *models.ScanRun, res *models.ScrapeResult, listings []models.Listing) error {
	body, err := encodeArchive(run, res, listings)
	if err != nil {
		return fmt.Errorf("encode archive: %w", err)
	}

	key := ArchiveKey(a.prefix, run.StartedAt, run.ID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

// Upload stores one object under the bucket, outside the archive prefix.
func (a *S3Archiver) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}
