package sink

import (
	"fmt"
	"io"

	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/parquet-go/parquet-go"
)

// Row is one sample of one group in the long parquet layout. Start and End
// are 0 for whole-chromosome groups.
type Row struct {
	Chrom  string  `parquet:"chrom,dict"`
	Start  int64   `parquet:"start"`
	End    int64   `parquet:"end"`
	Sample int32   `parquet:"sample"`
	Mean   float64 `parquet:"mean"`
	StdDev float64 `parquet:"stddev"`
	Count  int64   `parquet:"count"`
}

// parquetBatch is the number of rows buffered per Write call.
const parquetBatch = 4096

// EncodeParquet writes groups as a parquet file in long format.
func EncodeParquet(w io.Writer, groups []covstats.GroupStats) error {
	pw := parquet.NewGenericWriter[Row](w)

	rows := make([]Row, 0, parquetBatch)
	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		rows = rows[:0]
		return nil
	}

	for _, g := range groups {
		for i, s := range g.Samples {
			rows = append(rows, Row{
				Chrom:  g.Key.Chrom,
				Start:  g.Key.Start,
				End:    g.Key.End,
				Sample: int32(i),
				Mean:   s.Mean,
				StdDev: s.StdDev,
				Count:  s.Count,
			})
			if len(rows) == parquetBatch {
				if err := flush(); err != nil {
					pw.Close()
					return err
				}
			}
		}
	}
	if err := flush(); err != nil {
		pw.Close()
		return err
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
