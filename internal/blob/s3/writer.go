package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// minPartSize is the S3 lower bound for multipart parts.
const minPartSize int64 = manager.MinUploadPartSize

// archiveContentType is used when a caller does not name one.
const archiveContentType = "application/x-ndjson"

// Writer implements domain.BlobWriter on the archive bucket. Every object is
// written with a CRC32 checksum and tagged with the writing service so that
// lifecycle rules can target archive objects.
type Writer struct {
	client *s3.Client
	bucket string
}

var _ domain.BlobWriter = (*Writer)(nil)

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{client: c.S3(), bucket: c.Bucket()}
}

// Put uploads a small archive object in a single request.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	if _, err := w.client.PutObject(ctx, w.input(path, data, contentType)); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", path, err)
	}
	return nil
}

// PutMultipart streams a large archive object in concurrent parts of
// partSize bytes, raised to the S3 minimum when smaller.
func (w *Writer) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	uploader := manager.NewUploader(w.client, func(u *manager.Uploader) {
		u.PartSize = max(partSize, minPartSize)
	})
	if _, err := uploader.Upload(ctx, w.input(path, data, archiveContentType)); err != nil {
		return fmt.Errorf("s3blob: multipart put %s: %w", path, err)
	}
	return nil
}

func (w *Writer) input(path string, data io.Reader, contentType string) *s3.PutObjectInput {
	if contentType == "" {
		contentType = archiveContentType
	}
	return &s3.PutObjectInput{
		Bucket:            aws.String(w.bucket),
		Key:               aws.String(path),
		Body:              data,
		ContentType:       aws.String(contentType),
		ChecksumAlgorithm: types.ChecksumAlgorithmCrc32,
		Tagging:           aws.String("source=assetmarket&kind=journal-archive"),
	}
}
