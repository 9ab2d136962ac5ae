package depth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/eunmann/covstat/pkg/s3io"
)

// ObjectStreamer opens remote objects for sequential reading.
// *s3io.Client implements it.
type ObjectStreamer interface {
	StreamObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Open opens a depth table by path. The path may be a local file, "-" for
// standard input, or an s3://bucket/key URI, which requires objects to be
// non-nil.
func Open(ctx context.Context, path string, objects ObjectStreamer) (Reader, error) {
	switch {
	case path == "" || path == "-":
		return NewTSVReaderFromStream(io.NopCloser(os.Stdin), "-")

	case s3io.IsS3URI(path):
		if objects == nil {
			return nil, errors.New("s3 input requires an S3 client")
		}
		bucket, key, err := s3io.ParseS3URI(path)
		if err != nil {
			return nil, fmt.Errorf("parse input URI: %w", err)
		}
		body, err := objects.StreamObject(ctx, bucket, key)
		if err != nil {
			return nil, err
		}
		return NewTSVReaderFromStream(body, key)

	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open depth file: %w", err)
		}
		return NewTSVReaderFromStream(f, path)
	}
}
