// Package sink writes finalized group statistics as TSV or parquet to
// stdout, a local file, or S3.
package sink

import (
	"bufio"
	"io"
	"strconv"

	"github.com/eunmann/covstat/pkg/covstats"
)

// AppendTSVRow appends the TSV line for g, without the trailing newline.
//
// Whole-chromosome rows are "chrom\tmean,stddev,count\t..."; windowed rows
// carry "chrom\tstart\tend" before the per-sample columns.
func AppendTSVRow(buf []byte, g covstats.GroupStats) []byte {
	buf = append(buf, g.Key.Chrom...)
	if g.Key.Windowed {
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, g.Key.Start, 10)
		buf = append(buf, '\t')
		buf = strconv.AppendInt(buf, g.Key.End, 10)
	}
	for _, s := range g.Samples {
		buf = append(buf, '\t')
		buf = strconv.AppendFloat(buf, s.Mean, 'g', -1, 64)
		buf = append(buf, ',')
		buf = strconv.AppendFloat(buf, s.StdDev, 'g', -1, 64)
		buf = append(buf, ',')
		buf = strconv.AppendInt(buf, s.Count, 10)
	}
	return buf
}

// EncodeTSV writes one line per group, in order.
func EncodeTSV(w io.Writer, groups []covstats.GroupStats) error {
	bw := bufio.NewWriterSize(w, 64*1024)
	var line []byte
	for _, g := range groups {
		line = AppendTSVRow(line[:0], g)
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return err
		}
	}
	return bw.Flush()
}
