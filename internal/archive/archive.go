// Package archive uploads cycle reports to S3-compatible object storage
// (AWS S3, Cloudflare R2, MinIO).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/aristath/arena-agent/internal/config"
	"github.com/aristath/arena-agent/internal/pipeline"
)

const noInterval = "no-interval"

// Uploader is the subset of manager.Uploader the archive uses
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// NewUploader builds an S3 uploader. A custom endpoint switches to path-style
// addressing, which R2 and MinIO expect.
func NewUploader(ctx context.Context, cfg config.ArchiveConfig) (*manager.Uploader, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return manager.NewUploader(client), nil
}

// Archive stores one JSON object per cycle report
type Archive struct {
	uploader Uploader
	bucket   string
	prefix   string
	timeout  time.Duration
	log      zerolog.Logger
}

// New creates an archive writing to bucket under prefix
func New(uploader Uploader, bucket, prefix string, log zerolog.Logger) *Archive {
	return &Archive{
		uploader: uploader,
		bucket:   bucket,
		prefix:   prefix,
		timeout:  2 * time.Minute,
		log:      log.With().Str("component", "archive").Logger(),
	}
}

// Key returns the object key of a report: prefix/agent/interval_start/run_id.json
func (a *Archive) Key(report *pipeline.Report) string {
	interval := report.IntervalStart()
	if interval == "" {
		interval = noInterval
	}
	return path.Join(a.prefix, report.AgentID, interval, report.RunID+".json")
}

// Record implements pipeline.Sink
func (a *Archive) Record(ctx context.Context, report *pipeline.Report) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	key := a.Key(report)
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"agent-id": report.AgentID,
			"state":    string(report.State),
			"strategy": report.Strategy,
		},
	})
	if err != nil {
		return fmt.Errorf("upload report %s: %w", key, err)
	}

	a.log.Info().
		Str("bucket", a.bucket).
		Str("key", key).
		Int("bytes", len(body)).
		Msg("Cycle report archived")
	return nil
}
