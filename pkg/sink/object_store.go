package sink

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tidemark-io/tidemark/pkg/compression"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/formats/columnar"
	"github.com/tidemark-io/tidemark/pkg/report"
)

// Uploader is the slice of the s3 transfer manager the sink uses.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// ObjectStoreSink serializes the table into a columnar file and uploads it
// under a partitioned key.
type ObjectStoreSink struct {
	bucket      string
	prefix      string
	description string
	format      columnar.Format
	compressor  compression.Compressor
	uploader    Uploader
}

// NewObjectStoreSink creates an S3-backed sink from a target. Location is
// the bucket; options: prefix, description (key path segment), region,
// compression (body algorithm).
func NewObjectStoreSink(ctx context.Context, target Target) (*ObjectStoreSink, error) {
	if target.Location == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "object_store target requires a bucket location")
	}

	format, err := columnar.ParseFormat(target.Format)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid object_store format")
	}

	compressor, err := compression.NewCompressor(compression.Algorithm(target.Option("compression", "none")))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid object_store compression")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(target.Option("region", "us-east-1")),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to load aws configuration")
	}
	client := s3.NewFromConfig(cfg)

	return &ObjectStoreSink{
		bucket:      target.Location,
		prefix:      target.Option("prefix", ""),
		description: target.Option("description", "report"),
		format:      format,
		compressor:  compressor,
		uploader:    manager.NewUploader(client),
	}, nil
}

// WithUploader replaces the transfer manager. Test seam.
func (os *ObjectStoreSink) WithUploader(u Uploader) *ObjectStoreSink {
	os.uploader = u
	return os
}

// Write serializes, optionally compresses, and uploads the table.
func (os *ObjectStoreSink) Write(ctx context.Context, table *report.NormalizedTable, req *report.Request) error {
	var buf bytes.Buffer
	w, err := columnar.NewWriter(&buf, &columnar.WriterConfig{Format: os.format, Columns: table.Columns})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to create columnar writer")
	}
	if err := w.WriteTable(table); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to serialize table")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to finalize columnar file")
	}

	body, err := os.compressor.Compress(buf.Bytes())
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeSerialization, "failed to compress object body")
	}

	key := os.objectKey(req)
	_, err = os.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(os.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
		Metadata: map[string]string{
			"rows":    fmt.Sprintf("%d", table.NumRows()),
			"format":  string(os.format),
			"created": time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpload, "failed to upload object").
			WithDetail("bucket", os.bucket).
			WithDetail("key", key)
	}
	return nil
}

// objectKey builds the partitioned key. The partition is the first day of
// the range's start month; single-day ranges collapse to one date stamp.
func (os *ObjectStoreSink) objectKey(req *report.Request) string {
	start := req.DateRange.Start
	end := req.DateRange.End
	partition := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)

	stamp := start.Format(report.DateFormat)
	if !end.Equal(start) {
		stamp += "_" + end.Format(report.DateFormat)
	}

	key := fmt.Sprintf("%s/AccountId=%s/partition=%s/%s%s%s",
		os.description,
		req.AccountID,
		partition.Format(report.DateFormat),
		stamp,
		os.format.Extension(),
		os.compressor.Algorithm().Extension(),
	)
	if os.prefix != "" {
		key = os.prefix + "/" + key
	}
	return key
}
