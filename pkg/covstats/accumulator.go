// Package covstats aggregates depth-of-coverage records into per-group,
// per-sample count, mean and population standard deviation.
//
// Records are assigned to groups by a Strategy (whole chromosome or fixed
// window). Each group keeps running sufficient statistics (count, sum and
// sum of squares per sample) in an Accumulator owned by a Table, and the
// Table finalizes them in first-seen group order.
package covstats

import (
	"math/big"
	"math/bits"
)

// SampleStats is the finalized statistics for one sample of a group.
type SampleStats struct {
	Mean   float64
	StdDev float64
	Count  int64
}

// GroupStats is the finalized statistics for one group, one entry per sample.
type GroupStats struct {
	Key     GroupKey
	Samples []SampleStats
}

// uint128 is an unsigned 128-bit counter.
type uint128 struct {
	hi, lo uint64
}

// add returns u+v and whether the sum wrapped past 2^128.
func (u uint128) add(v uint128) (uint128, bool) {
	lo, carry := bits.Add64(u.lo, v.lo, 0)
	hi, carry := bits.Add64(u.hi, v.hi, carry)
	return uint128{hi: hi, lo: lo}, carry != 0
}

func (u uint128) big() *big.Int {
	b := new(big.Int).SetUint64(u.hi)
	b.Lsh(b, 64)
	return b.Or(b, new(big.Int).SetUint64(u.lo))
}

// square returns d*d as a 128-bit value.
func square(d int64) uint128 {
	m := uint64(d)
	if d < 0 {
		m = uint64(-d)
	}
	hi, lo := bits.Mul64(m, m)
	return uint128{hi: hi, lo: lo}
}

// Accumulator holds the running sufficient statistics of one group.
// sums and sumSquares have one entry per sample.
//
// A single square of a depth.MaxDepth value already uses 62 bits, so sums of
// squares are kept in 128 bits. Depth sums stay int64 and are checked: they
// only wrap after about 2^32 maximal records in one group, and a fold that
// would wrap fails with a StatisticOverflowError.
type Accumulator struct {
	count      int64
	sums       []int64
	sumSquares []uint128
}

func newAccumulator(samples int) *Accumulator {
	return &Accumulator{
		sums:       make([]int64, samples),
		sumSquares: make([]uint128, samples),
	}
}

// Fold adds one record's depths. When capacity is positive, a fold that
// would push count above capacity fails with ErrBinOverflow. A fold whose
// running sums would wrap fails with a StatisticOverflowError naming the
// sample. On error the accumulator is unchanged.
func (a *Accumulator) Fold(depths []int64, capacity int64) error {
	if len(depths) != len(a.sums) {
		return &SampleCountError{Want: len(a.sums), Got: len(depths)}
	}
	if capacity > 0 && a.count+1 > capacity {
		return ErrBinOverflow
	}

	// Check every sample before committing any of them.
	for i, d := range depths {
		s := a.sums[i] + d
		if (d > 0 && s < a.sums[i]) || (d < 0 && s > a.sums[i]) {
			return &StatisticOverflowError{Sample: i, Statistic: "sum"}
		}
		if _, wrapped := a.sumSquares[i].add(square(d)); wrapped {
			return &StatisticOverflowError{Sample: i, Statistic: "sum of squares"}
		}
	}

	a.count++
	for i, d := range depths {
		a.sums[i] += d
		a.sumSquares[i], _ = a.sumSquares[i].add(square(d))
	}
	return nil
}

// Count returns the number of records folded so far.
func (a *Accumulator) Count() int64 {
	return a.count
}

// Samples returns the number of samples tracked.
func (a *Accumulator) Samples() int {
	return len(a.sums)
}

// Sum returns the running depth sum of sample i.
func (a *Accumulator) Sum(i int) int64 {
	return a.sums[i]
}

// SumSquares returns the running sum of squared depths of sample i.
func (a *Accumulator) SumSquares(i int) *big.Int {
	return a.sumSquares[i].big()
}

// Stats finalizes every sample. The accumulator is not modified.
func (a *Accumulator) Stats() ([]SampleStats, error) {
	out := make([]SampleStats, len(a.sums))
	for i := range a.sums {
		mean, sd, err := Finalize(a.count, a.sums[i], a.sumSquares[i].big())
		if err != nil {
			return nil, err
		}
		out[i] = SampleStats{Mean: mean, StdDev: sd, Count: a.count}
	}
	return out, nil
}
