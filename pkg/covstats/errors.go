package covstats

import (
	"errors"
	"fmt"
)

var (
	// ErrSampleCountMismatch indicates a record whose depth count differs
	// from the sample count established by the first record.
	ErrSampleCountMismatch = errors.New("sample count mismatch")
	// ErrBinOverflow indicates more records folded into a window than the
	// bin size admits, which means duplicate or out-of-order positions.
	ErrBinOverflow = errors.New("bin overflow")
	// ErrInvalidConfiguration indicates an invalid bin size or a grouping
	// invariant violation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrEmptyGroup indicates an attempt to finalize a group that received
	// no records. Groups are only created by a fold, so this is an engine
	// defect rather than an input problem.
	ErrEmptyGroup = errors.New("internal error: finalize of empty group")
	// ErrStatisticOverflow indicates a running statistic that no longer
	// fits its accumulator.
	ErrStatisticOverflow = errors.New("statistic overflow")
	// ErrDriverUsed indicates Run was called on a driver that already ran.
	ErrDriverUsed = errors.New("driver already ran")
)

// SampleCountError reports a record with the wrong number of depth values.
// It wraps ErrSampleCountMismatch.
type SampleCountError struct {
	Chrom string
	Pos   int64
	Want  int
	Got   int
}

func (e *SampleCountError) Error() string {
	return fmt.Sprintf("%s at %s:%d: expected %d samples, got %d",
		ErrSampleCountMismatch, e.Chrom, e.Pos, e.Want, e.Got)
}

func (e *SampleCountError) Unwrap() error {
	return ErrSampleCountMismatch
}

// BinOverflowError reports the record that overflowed its window.
// It wraps ErrBinOverflow.
type BinOverflowError struct {
	Chrom   string
	Pos     int64
	Start   int64
	End     int64
	BinSize int64
}

func (e *BinOverflowError) Error() string {
	return fmt.Sprintf("%s at %s:%d: window [%d,%d) already holds %d records, possible duplicate entries",
		ErrBinOverflow, e.Chrom, e.Pos, e.Start, e.End, e.BinSize)
}

func (e *BinOverflowError) Unwrap() error {
	return ErrBinOverflow
}

// StatisticOverflowError reports the record whose depths would wrap a
// running statistic. It wraps ErrStatisticOverflow.
type StatisticOverflowError struct {
	Chrom     string
	Pos       int64
	Sample    int
	Statistic string
}

func (e *StatisticOverflowError) Error() string {
	return fmt.Sprintf("%s at %s:%d: %s of sample %d exceeds accumulator range",
		ErrStatisticOverflow, e.Chrom, e.Pos, e.Statistic, e.Sample)
}

func (e *StatisticOverflowError) Unwrap() error {
	return ErrStatisticOverflow
}
