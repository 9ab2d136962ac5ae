package covstats

import (
	"fmt"
	"strconv"
)

// Strategy names, as used on the command line and in index metadata.
const (
	ModeChrom = "chrom"
	ModeBin   = "bin"
)

// GroupKey identifies a group of records. For whole-chromosome grouping
// only Chrom is set; windowed keys carry the half-open range [Start, End).
type GroupKey struct {
	Chrom    string
	Start    int64
	End      int64
	Windowed bool
}

// String renders the key as "chr1" or "chr1:0-1000".
func (k GroupKey) String() string {
	if !k.Windowed {
		return k.Chrom
	}
	return k.Chrom + ":" + strconv.FormatInt(k.Start, 10) + "-" + strconv.FormatInt(k.End, 10)
}

// Strategy assigns records to groups. Implementations must be pure.
type Strategy interface {
	// Assign maps a chromosome and position to a group key.
	Assign(chrom string, pos int64) (GroupKey, error)

	// Capacity is the maximum number of records a single group may hold,
	// or 0 when unbounded.
	Capacity() int64

	// Name returns ModeChrom or ModeBin.
	Name() string
}

// ByChromosome groups all records of a chromosome together.
type ByChromosome struct{}

func (ByChromosome) Assign(chrom string, _ int64) (GroupKey, error) {
	return GroupKey{Chrom: chrom}, nil
}

func (ByChromosome) Capacity() int64 { return 0 }

func (ByChromosome) Name() string { return ModeChrom }

// FixedWindow groups records into tiled windows of BinSize positions.
// A window admits at most BinSize records, one per position.
type FixedWindow struct {
	binSize int64
}

// NewFixedWindow returns a windowed strategy. binSize must be positive.
func NewFixedWindow(binSize int64) (FixedWindow, error) {
	if binSize <= 0 {
		return FixedWindow{}, fmt.Errorf("%w: bin size must be positive, got %d", ErrInvalidConfiguration, binSize)
	}
	return FixedWindow{binSize: binSize}, nil
}

// BinSize returns the window width.
func (w FixedWindow) BinSize() int64 { return w.binSize }

func (w FixedWindow) Assign(chrom string, pos int64) (GroupKey, error) {
	if w.binSize <= 0 {
		return GroupKey{}, fmt.Errorf("%w: bin size must be positive, got %d", ErrInvalidConfiguration, w.binSize)
	}
	start := pos - pos%w.binSize
	end := start + w.binSize
	if pos < start || pos >= end {
		return GroupKey{}, fmt.Errorf("%w: position %s:%d outside its window [%d,%d)",
			ErrInvalidConfiguration, chrom, pos, start, end)
	}
	return GroupKey{Chrom: chrom, Start: start, End: end, Windowed: true}, nil
}

func (w FixedWindow) Capacity() int64 { return w.binSize }

func (FixedWindow) Name() string { return ModeBin }

// NewStrategy builds the strategy for a mode name. binSize is ignored for
// ModeChrom.
func NewStrategy(mode string, binSize int64) (Strategy, error) {
	switch mode {
	case ModeChrom:
		return ByChromosome{}, nil
	case ModeBin:
		return NewFixedWindow(binSize)
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidConfiguration, mode)
	}
}
