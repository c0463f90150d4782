package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// minPartSize is the minimum S3 multipart part size (5 MiB). Payloads at or
// above it go through the multipart uploader.
const minPartSize int64 = 5 * 1024 * 1024

// Writer implements domain.BlobWriter.
type Writer struct {
	client   *s3.Client
	bucket   string
	uploader *manager.Uploader
}

// NewWriter creates a Writer for the client's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.s3,
		bucket: c.bucket,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
	}
}

// Put uploads data to path. Large in-memory payloads are split into parts
// and uploaded concurrently; everything else is a single PutObject.
func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	}

	if br, ok := data.(*bytes.Reader); ok && br.Size() >= minPartSize {
		if _, err := w.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", path, err)
		}
		return nil
	}

	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put object %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
