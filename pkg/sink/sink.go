package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/covstat/internal/logctx"
	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/eunmann/covstat/pkg/fileutil"
	"github.com/eunmann/covstat/pkg/logging"
	"github.com/eunmann/covstat/pkg/s3io"
)

// Output formats.
const (
	FormatTSV     = "tsv"
	FormatParquet = "parquet"
)

// Uploader uploads a finished output object. *s3io.Client implements it.
type Uploader interface {
	Upload(ctx context.Context, bucket, key string, body io.Reader) error
}

// Options selects where and how results are written.
type Options struct {
	// Dest is "" or "-" for Stdout, an s3://bucket/key URI, or a local path.
	Dest string

	// Format is FormatTSV (the default when empty) or FormatParquet.
	Format string

	// Stdout receives output when Dest is "" or "-". Defaults to os.Stdout.
	Stdout io.Writer

	// Uploader is required for s3:// destinations.
	Uploader Uploader
}

// ValidFormat reports whether f names a supported output format.
func ValidFormat(f string) bool {
	return f == "" || f == FormatTSV || f == FormatParquet
}

// Encode writes groups to w in the given format.
func Encode(w io.Writer, format string, groups []covstats.GroupStats) error {
	switch format {
	case "", FormatTSV:
		return EncodeTSV(w, groups)
	case FormatParquet:
		return EncodeParquet(w, groups)
	default:
		return fmt.Errorf("%w: unknown output format %q", covstats.ErrInvalidConfiguration, format)
	}
}

// Write encodes groups to opts.Dest. File and S3 destinations are written to
// a temporary file first, so a failed write leaves nothing at Dest.
func Write(ctx context.Context, opts Options, groups []covstats.GroupStats) error {
	if !ValidFormat(opts.Format) {
		return fmt.Errorf("%w: unknown output format %q", covstats.ErrInvalidConfiguration, opts.Format)
	}

	log := logctx.FromContext(ctx)
	start := time.Now()

	var (
		size int64
		err  error
	)
	switch {
	case opts.Dest == "" || opts.Dest == "-":
		out := opts.Stdout
		if out == nil {
			out = os.Stdout
		}
		cw := &countingWriter{w: out}
		err = Encode(cw, opts.Format, groups)
		size = cw.n
	case s3io.IsS3URI(opts.Dest):
		size, err = writeS3(ctx, opts, groups)
	default:
		size, err = writeFile(opts, groups)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", destName(opts.Dest), err)
	}

	logging.FileCreated(log, "write", time.Since(start)).
		Str("dest", destName(opts.Dest)).
		Str("format", formatName(opts.Format)).
		Count("groups", int64(len(groups))).
		Bytes("size", size).
		Log("output written")
	return nil
}

func writeFile(opts Options, groups []covstats.GroupStats) (int64, error) {
	var size int64
	err := fileutil.WriteTmpThenMove(filepath.Dir(opts.Dest), opts.Dest, func(tmpPath string) error {
		n, err := encodeToFile(tmpPath, opts.Format, groups)
		size = n
		return err
	})
	return size, err
}

func writeS3(ctx context.Context, opts Options, groups []covstats.GroupStats) (int64, error) {
	if opts.Uploader == nil {
		return 0, fmt.Errorf("%w: no S3 client for %s", covstats.ErrInvalidConfiguration, opts.Dest)
	}
	bucket, key, err := s3io.ParseS3URI(opts.Dest)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp("", "covstat-out-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	size, err := encodeToFile(tmpPath, opts.Format, groups)
	if err != nil {
		return 0, err
	}

	f, err := os.Open(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("reopen temp file: %w", err)
	}
	defer f.Close()

	if err := opts.Uploader.Upload(ctx, bucket, key, f); err != nil {
		return 0, err
	}
	return size, nil
}

func encodeToFile(path, format string, groups []covstats.GroupStats) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create: %w", err)
	}
	cw := &countingWriter{w: f}
	if err := Encode(cw, format, groups); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close: %w", err)
	}
	return cw.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func destName(dest string) string {
	if dest == "" || dest == "-" {
		return "stdout"
	}
	return dest
}

func formatName(f string) string {
	if f == "" {
		return FormatTSV
	}
	return f
}
