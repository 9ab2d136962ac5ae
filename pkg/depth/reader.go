// Package depth provides readers for multi-sample depth-of-coverage tables.
package depth

// Record is a single row of a depth table: one genomic position and the
// depth observed at that position in each sample.
type Record struct {
	// Chrom is the chromosome (reference sequence) name.
	Chrom string

	// Pos is the position on Chrom. Never negative.
	Pos int64

	// Depths holds one depth value per sample, in column order.
	Depths []int64
}

// Clone returns a copy of the record that does not share the Depths slice.
func (r Record) Clone() Record {
	depths := make([]int64, len(r.Depths))
	copy(depths, r.Depths)
	return Record{Chrom: r.Chrom, Pos: r.Pos, Depths: depths}
}

// Reader is the interface for reading depth records.
type Reader interface {
	// Next returns the next record. Returns io.EOF when done.
	// The returned Depths slice is only valid until the next call to Next.
	Next() (Record, error)

	// Close releases resources.
	Close() error
}
