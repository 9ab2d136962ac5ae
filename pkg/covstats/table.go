package covstats

import (
	"errors"
	"fmt"
	"strings"

	"github.com/eunmann/covstat/pkg/depth"
)

// Table maps group keys to accumulators and remembers the order in which
// keys were first seen.
//
// The table is NOT safe for concurrent use. Sharded runs give each worker
// its own table.
type Table struct {
	strategy Strategy
	samples  int
	groups   map[GroupKey]*Accumulator
	order    []GroupKey
	records  int64
}

// NewTable creates an empty table. When samples is 0 the sample count is
// established by the first observed record.
func NewTable(strategy Strategy, samples int) *Table {
	return &Table{
		strategy: strategy,
		samples:  samples,
		groups:   make(map[GroupKey]*Accumulator),
	}
}

// Observe assigns a record to its group and folds its depths in. Any error
// leaves the table unusable for output.
func (t *Table) Observe(rec depth.Record) error {
	if t.samples == 0 {
		if len(rec.Depths) == 0 {
			return fmt.Errorf("%w at %s:%d: record has no depth values", ErrSampleCountMismatch, rec.Chrom, rec.Pos)
		}
		t.samples = len(rec.Depths)
	}
	if len(rec.Depths) != t.samples {
		return &SampleCountError{Chrom: rec.Chrom, Pos: rec.Pos, Want: t.samples, Got: len(rec.Depths)}
	}

	key, err := t.strategy.Assign(rec.Chrom, rec.Pos)
	if err != nil {
		return err
	}

	acc := t.lookupOrCreate(key)
	if err := acc.Fold(rec.Depths, t.strategy.Capacity()); err != nil {
		if errors.Is(err, ErrBinOverflow) {
			return &BinOverflowError{
				Chrom:   rec.Chrom,
				Pos:     rec.Pos,
				Start:   key.Start,
				End:     key.End,
				BinSize: t.strategy.Capacity(),
			}
		}
		var sce *SampleCountError
		if errors.As(err, &sce) {
			sce.Chrom, sce.Pos = rec.Chrom, rec.Pos
		}
		var soe *StatisticOverflowError
		if errors.As(err, &soe) {
			soe.Chrom, soe.Pos = rec.Chrom, rec.Pos
		}
		return err
	}
	t.records++
	return nil
}

// lookupOrCreate returns the accumulator for key, appending a new empty one
// to the iteration order when the key is new.
func (t *Table) lookupOrCreate(key GroupKey) *Accumulator {
	if acc, ok := t.groups[key]; ok {
		return acc
	}
	// Readers may hand out chromosome names that alias a larger line buffer.
	key.Chrom = strings.Clone(key.Chrom)
	acc := newAccumulator(t.samples)
	t.groups[key] = acc
	t.order = append(t.order, key)
	return acc
}

// Finalize computes GroupStats for every group in first-seen order.
// It does not modify the table and may be called repeatedly.
func (t *Table) Finalize() ([]GroupStats, error) {
	out := make([]GroupStats, 0, len(t.order))
	for _, key := range t.order {
		samples, err := t.groups[key].Stats()
		if err != nil {
			return nil, fmt.Errorf("finalize group %s: %w", key, err)
		}
		out = append(out, GroupStats{Key: key, Samples: samples})
	}
	return out, nil
}

// Lookup returns the accumulator of a group, if present.
func (t *Table) Lookup(key GroupKey) (*Accumulator, bool) {
	acc, ok := t.groups[key]
	return acc, ok
}

// Keys returns the group keys in first-seen order.
func (t *Table) Keys() []GroupKey {
	keys := make([]GroupKey, len(t.order))
	copy(keys, t.order)
	return keys
}

// Len returns the number of groups.
func (t *Table) Len() int {
	return len(t.order)
}

// Samples returns the established sample count, or 0 before the first record.
func (t *Table) Samples() int {
	return t.samples
}

// Records returns the number of records folded successfully.
func (t *Table) Records() int64 {
	return t.records
}

// Strategy returns the grouping strategy of the table.
func (t *Table) Strategy() Strategy {
	return t.strategy
}

// EstimatedMemoryUsage returns an approximate memory usage in bytes.
func (t *Table) EstimatedMemoryUsage() int64 {
	// Per group:
	// - map entry + order slot: ~96 bytes
	// - key (chrom string ~8 bytes, two int64, flag): ~48 bytes
	// - Accumulator header with two slice headers: ~56 bytes
	// - 24 bytes per sample: an int64 sum and a 128-bit sum of squares
	const perGroup = 96 + 48 + 56
	return int64(len(t.order)) * (perGroup + 24*int64(t.samples))
}
