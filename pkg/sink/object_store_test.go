package sink

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark-io/tidemark/pkg/compression"
	"github.com/tidemark-io/tidemark/pkg/errors"
	"github.com/tidemark-io/tidemark/pkg/formats/columnar"
	"github.com/tidemark-io/tidemark/pkg/report"
)

type fakeUploader struct {
	bucket string
	key    string
	body   []byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = *input.Bucket
	f.key = *input.Key
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &manager.UploadOutput{}, nil
}

func newObjectStoreSink(uploader Uploader, format columnar.Format, alg compression.Algorithm, opts map[string]string) *ObjectStoreSink {
	compressor, _ := compression.NewCompressor(alg)
	sink := &ObjectStoreSink{
		bucket:      "analytics-exports",
		prefix:      opts["prefix"],
		description: "page_report",
		format:      format,
		compressor:  compressor,
		uploader:    uploader,
	}
	return sink
}

func TestObjectStoreKeyLayout(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newObjectStoreSink(uploader, columnar.Parquet, compression.None, map[string]string{"prefix": "exports"})

	require.NoError(t, sink.Write(context.Background(), sampleTable(t), sampleRequest()))

	assert.Equal(t, "analytics-exports", uploader.bucket)
	assert.Equal(t,
		"exports/page_report/AccountId=12345678/partition=2020-01-01/2020-01-01_2020-01-02.parquet",
		uploader.key)
	assert.Equal(t, []byte("PAR1"), uploader.body[:4])
}

func TestObjectStoreSingleDayKey(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newObjectStoreSink(uploader, columnar.Parquet, compression.None, nil)

	req := sampleRequest()
	req.DateRange.End = req.DateRange.Start
	require.NoError(t, sink.Write(context.Background(), sampleTable(t), req))

	assert.Equal(t,
		"page_report/AccountId=12345678/partition=2020-01-01/2020-01-01.parquet",
		uploader.key)
}

func TestObjectStoreMidMonthPartition(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newObjectStoreSink(uploader, columnar.Parquet, compression.None, nil)

	req := sampleRequest()
	req.DateRange = report.DateRange{Start: report.MustDate("2020-03-15"), End: report.MustDate("2020-03-21")}
	require.NoError(t, sink.Write(context.Background(), sampleTable(t), req))

	assert.Equal(t,
		"page_report/AccountId=12345678/partition=2020-03-01/2020-03-15_2020-03-21.parquet",
		uploader.key)
}

func TestObjectStoreCompressedBody(t *testing.T) {
	uploader := &fakeUploader{}
	sink := newObjectStoreSink(uploader, columnar.Parquet, compression.Gzip, nil)

	require.NoError(t, sink.Write(context.Background(), sampleTable(t), sampleRequest()))

	assert.Contains(t, uploader.key, ".parquet.gz")
	// gzip magic
	assert.Equal(t, []byte{0x1f, 0x8b}, uploader.body[:2])
}

func TestObjectStoreUploadFailure(t *testing.T) {
	uploader := &fakeUploader{err: errors.New(errors.ErrorTypeConnection, "connection reset")}
	sink := newObjectStoreSink(uploader, columnar.Parquet, compression.None, nil)

	err := sink.Write(context.Background(), sampleTable(t), sampleRequest())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUpload))
}
