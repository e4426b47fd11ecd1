package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/veridesk/veridesk/internal/config"
)

// S3Uploader pushes exported reports to an S3-compatible bucket.
// Supports AWS S3, MinIO, Wasabi, and other S3-compatible services.
type S3Uploader struct {
	cfg    config.ExportConfig
	logger zerolog.Logger
}

// NewS3Uploader creates an uploader from the export configuration.
func NewS3Uploader(cfg config.ExportConfig, logger zerolog.Logger) (*S3Uploader, error) {
	if err := validateExportConfig(cfg); err != nil {
		return nil, err
	}
	return &S3Uploader{
		cfg:    cfg,
		logger: logger.With().Str("component", "s3_uploader").Logger(),
	}, nil
}

func validateExportConfig(cfg config.ExportConfig) error {
	if cfg.Bucket == "" {
		return errors.New("s3 uploader: bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return errors.New("s3 uploader: access_key_id is required")
	}
	if cfg.SecretAccessKey == "" {
		return errors.New("s3 uploader: secret_access_key is required")
	}
	return nil
}

// Upload stores a report under the configured prefix and returns the
// object key.
func (u *S3Uploader) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	client, err := u.client(ctx)
	if err != nil {
		return "", err
	}

	key := name
	if u.cfg.Prefix != "" {
		key = strings.TrimSuffix(u.cfg.Prefix, "/") + "/" + name
	}

	uploader := manager.NewUploader(client)
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload report to s3: %w", err)
	}

	u.logger.Info().
		Str("bucket", u.cfg.Bucket).
		Str("key", key).
		Int("size_bytes", len(data)).
		Msg("report uploaded")

	return key, nil
}

// TestConnection verifies the bucket is reachable with the configured
// credentials.
func (u *S3Uploader) TestConnection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := u.client(ctx)
	if err != nil {
		return err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(u.cfg.Bucket),
	}); err != nil {
		return fmt.Errorf("s3 uploader: failed to access bucket: %w", err)
	}
	return nil
}

func (u *S3Uploader) client(ctx context.Context) (*s3.Client, error) {
	region := u.cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			u.cfg.AccessKeyID,
			u.cfg.SecretAccessKey,
			"",
		)),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: failed to load config: %w", err)
	}

	clientOpts := []func(*s3.Options){}
	if u.cfg.Endpoint != "" {
		scheme := "http"
		if u.cfg.UseSSL {
			scheme = "https"
		}
		endpoint := u.cfg.Endpoint
		// Remove scheme if present
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		endpointURL := fmt.Sprintf("%s://%s", scheme, endpoint)
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpointURL)
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(cfg, clientOpts...), nil
}

// ObjectName builds a timestamped object name for a report.
func ObjectName(reportType ReportType, format Format, at time.Time) string {
	return fmt.Sprintf("%s-%s.%s", reportType, at.UTC().Format("20060102T150405Z"), format)
}

// ContentType returns the MIME type for an export format.
func ContentType(format Format) string {
	switch format {
	case FormatYAML:
		return "application/yaml"
	case FormatCSV:
		return "text/csv"
	default:
		return "application/json"
	}
}
