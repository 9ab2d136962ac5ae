package depth

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxDepth is the largest accepted depth value. A depth sum stays exact in
// an int64 for about 2^32 maximal records; sums of squares are kept wider
// by the aggregation engine.
const MaxDepth = math.MaxInt32

// maxLineBytes bounds one table row, header included.
const maxLineBytes = 64 << 20

// tsvReader reads depth records from tab-separated streams:
//
//	<chrom>\t<position>\t<depth_1>\t...\t<depth_n>
//
// Lines starting with '#' are treated as comments (samtools depth -H header)
// and blank lines are skipped. Fields are never quoted, so a '"' has no
// special meaning to the splitter; a chromosome starting with one is
// rejected.
type tsvReader struct {
	scanner   *bufio.Scanner
	line      int
	fields    []string
	depths    []int64
	seenFirst bool
	closers   []io.Closer
}

// NewTSVReader creates a depth reader from an io.Reader.
// The reader should provide the raw table (already decompressed if needed).
// Use NewTSVReaderFromStream for automatic decompression.
func NewTSVReader(r io.Reader) Reader {
	return &tsvReader{scanner: newLineScanner(r)}
}

// NewTSVReaderFromStream creates a depth reader from a named stream.
// Decompression is chosen from the name: ".gz" and ".bgz" are gzip
// (multi-member streams such as BGZF are supported), ".zst" is zstd.
// The stream is closed when the returned reader is closed.
func NewTSVReaderFromStream(rc io.ReadCloser, name string) (Reader, error) {
	var reader io.Reader = rc
	closers := []io.Closer{rc}

	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"), strings.HasSuffix(lower, ".bgz"):
		gzr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		closers = append(closers, gzr)
		reader = gzr
	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		closers = append(closers, zstdCloser{zr})
		reader = zr
	}

	return &tsvReader{
		scanner: newLineScanner(reader),
		closers: closers,
	}, nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

// readFields advances to the next data row and splits it on tabs. The
// returned slice is reused by the next call.
func (r *tsvReader) readFields() ([]string, error) {
	for r.scanner.Scan() {
		r.line++
		b := r.scanner.Bytes()
		if len(b) == 0 || b[0] == '#' {
			continue
		}
		row := string(b)
		r.fields = r.fields[:0]
		for {
			i := strings.IndexByte(row, '\t')
			if i < 0 {
				r.fields = append(r.fields, row)
				break
			}
			r.fields = append(r.fields, row[:i])
			row = row[i+1:]
		}
		return r.fields, nil
	}
	if err := r.scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return nil, &ParseError{Line: r.line + 1, Reason: fmt.Sprintf("row longer than %d bytes", maxLineBytes)}
		}
		return nil, fmt.Errorf("read depth row: %w", err)
	}
	return nil, io.EOF
}

// Next returns the next depth record.
func (r *tsvReader) Next() (Record, error) {
	fields, err := r.readFields()
	if err != nil {
		return Record{}, err
	}
	line := r.line

	// The sample count is inferred from the first row, so it must carry at
	// least one depth column. Later arity problems are left to the caller,
	// which knows the established sample count.
	minFields := 2
	if !r.seenFirst {
		minFields = 3
	}
	if len(fields) < minFields {
		return Record{}, parseErr(line, fields, fmt.Sprintf("expected at least %d fields, got %d", minFields, len(fields)))
	}

	chrom := fields[0]
	if chrom == "" {
		return Record{}, parseErr(line, fields, "empty chromosome")
	}
	if chrom[0] == '"' {
		return Record{}, parseErr(line, fields, "quoted fields are unsupported")
	}

	pos, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || pos < 0 {
		return Record{}, parseErr(line, fields, fmt.Sprintf("invalid position %q", fields[1]))
	}

	r.depths = r.depths[:0]
	for i, f := range fields[2:] {
		d, err := strconv.ParseInt(f, 10, 64)
		if err != nil || d < 0 || d > MaxDepth {
			return Record{}, parseErr(line, fields, fmt.Sprintf("invalid depth %q in sample column %d", f, i+1))
		}
		r.depths = append(r.depths, d)
	}

	r.seenFirst = true
	return Record{Chrom: chrom, Pos: pos, Depths: r.depths}, nil
}

// Close releases resources in reverse order of acquisition.
func (r *tsvReader) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.closers = nil
	return firstErr
}

func parseErr(line int, fields []string, reason string) *ParseError {
	return &ParseError{
		Line:   line,
		Raw:    strings.Join(fields, "\t"),
		Reason: reason,
	}
}

// zstdCloser adapts zstd.Decoder, whose Close has no error result.
type zstdCloser struct {
	d *zstd.Decoder
}

func (z zstdCloser) Close() error {
	z.d.Close()
	return nil
}
