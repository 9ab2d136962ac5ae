package covstats

import (
	"errors"
	"math"
	"math/big"
	"strings"
	"testing"

	"github.com/eunmann/covstat/pkg/depth"
)

func TestFinalize(t *testing.T) {
	tests := []struct {
		name               string
		count, sum, sumsq  int64
		wantMean, wantStdd float64
	}{
		{"two values", 2, 30, 500, 15, 5},
		{"single value", 1, 7, 49, 7, 0},
		{"constant", 4, 20, 100, 5, 0},
		{"zeros", 3, 0, 0, 0, 0},
		{"window", 2, 10, 52, 5, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, sd, err := Finalize(tt.count, tt.sum, big.NewInt(tt.sumsq))
			if err != nil {
				t.Fatalf("Finalize error: %v", err)
			}
			if mean != tt.wantMean {
				t.Errorf("mean = %v, want %v", mean, tt.wantMean)
			}
			if math.Abs(sd-tt.wantStdd) > 1e-12 {
				t.Errorf("stddev = %v, want %v", sd, tt.wantStdd)
			}
		})
	}
}

func TestFinalize_EmptyGroup(t *testing.T) {
	if _, _, err := Finalize(0, 0, big.NewInt(0)); !errors.Is(err, ErrEmptyGroup) {
		t.Errorf("expected ErrEmptyGroup, got %v", err)
	}
}

func TestFinalize_ClampsNegativeRadicand(t *testing.T) {
	// Inconsistent statistics (sum^2 > count*sumsq) must not yield NaN.
	mean, sd, err := Finalize(2, 10, big.NewInt(1))
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if mean != 5 {
		t.Errorf("mean = %v, want 5", mean)
	}
	if sd != 0 {
		t.Errorf("stddev = %v, want 0", sd)
	}
}

func TestFinalize_LargeWholeChromosome(t *testing.T) {
	// count*sumsq overflows int64 here; the result must still be exact.
	const count = int64(250_000_000)
	const d = int64(30_000)
	mean, sd, err := Finalize(count, count*d, big.NewInt(count*d*d))
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if mean != float64(d) {
		t.Errorf("mean = %v, want %v", mean, d)
	}
	if sd != 0 {
		t.Errorf("stddev = %v, want 0", sd)
	}
}

func TestAccumulator_Fold(t *testing.T) {
	acc := newAccumulator(2)
	if err := acc.Fold([]int64{10, 20}, 0); err != nil {
		t.Fatalf("Fold error: %v", err)
	}
	if err := acc.Fold([]int64{20, 30}, 0); err != nil {
		t.Fatalf("Fold error: %v", err)
	}

	if acc.Count() != 2 || acc.Samples() != 2 {
		t.Fatalf("Count/Samples = %d/%d, want 2/2", acc.Count(), acc.Samples())
	}
	if acc.Sum(0) != 30 || acc.SumSquares(0).Int64() != 500 {
		t.Errorf("sample 0 sum/sumsq = %d/%d, want 30/500", acc.Sum(0), acc.SumSquares(0))
	}
	if acc.Sum(1) != 50 || acc.SumSquares(1).Int64() != 1300 {
		t.Errorf("sample 1 sum/sumsq = %d/%d, want 50/1300", acc.Sum(1), acc.SumSquares(1))
	}

	stats, err := acc.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	want := []SampleStats{{Mean: 15, StdDev: 5, Count: 2}, {Mean: 25, StdDev: 5, Count: 2}}
	for i := range want {
		if stats[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, stats[i], want[i])
		}
	}
}

func TestAccumulator_FoldErrorsLeaveStateUnchanged(t *testing.T) {
	acc := newAccumulator(1)
	if err := acc.Fold([]int64{4}, 1); err != nil {
		t.Fatalf("Fold error: %v", err)
	}

	if err := acc.Fold([]int64{6}, 1); !errors.Is(err, ErrBinOverflow) {
		t.Errorf("expected ErrBinOverflow, got %v", err)
	}

	var sce *SampleCountError
	if err := acc.Fold([]int64{1, 2}, 0); !errors.As(err, &sce) {
		t.Errorf("expected SampleCountError, got %v", err)
	} else if sce.Want != 1 || sce.Got != 2 {
		t.Errorf("SampleCountError = %+v, want Want=1 Got=2", sce)
	}

	if acc.Count() != 1 || acc.Sum(0) != 4 || acc.SumSquares(0).Int64() != 16 {
		t.Errorf("accumulator modified by failed folds: count=%d sum=%d sumsq=%d",
			acc.Count(), acc.Sum(0), acc.SumSquares(0))
	}
}

func TestAccumulator_FoldMaxDepthSumOfSquares(t *testing.T) {
	// Three squares of MaxDepth already exceed math.MaxInt64.
	acc := newAccumulator(1)
	for i := 0; i < 3; i++ {
		if err := acc.Fold([]int64{depth.MaxDepth}, 0); err != nil {
			t.Fatalf("Fold %d error: %v", i, err)
		}
	}
	if err := acc.Fold([]int64{0}, 0); err != nil {
		t.Fatalf("Fold error: %v", err)
	}

	wantSq := new(big.Int).Mul(big.NewInt(depth.MaxDepth), big.NewInt(depth.MaxDepth))
	wantSq.Mul(wantSq, big.NewInt(3))
	if acc.SumSquares(0).Cmp(wantSq) != 0 {
		t.Errorf("SumSquares = %s, want %s", acc.SumSquares(0), wantSq)
	}

	stats, err := acc.Stats()
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	// Values {M, M, M, 0}: mean 3M/4, population stddev sqrt(3)*M/4.
	const m = float64(depth.MaxDepth)
	wantMean := 3 * m / 4
	wantSD := math.Sqrt(3) * m / 4
	if stats[0].Mean != wantMean {
		t.Errorf("mean = %v, want %v", stats[0].Mean, wantMean)
	}
	if math.Abs(stats[0].StdDev-wantSD)/wantSD > 1e-12 {
		t.Errorf("stddev = %v, want %v", stats[0].StdDev, wantSD)
	}
	if stats[0].Count != 4 {
		t.Errorf("count = %d, want 4", stats[0].Count)
	}
}

func TestAccumulator_FoldSumOverflow(t *testing.T) {
	acc := newAccumulator(2)
	if err := acc.Fold([]int64{1, 1}, 0); err != nil {
		t.Fatalf("Fold error: %v", err)
	}
	acc.sums[1] = math.MaxInt64 - 1

	err := acc.Fold([]int64{5, 2}, 0)
	var soe *StatisticOverflowError
	if !errors.As(err, &soe) {
		t.Fatalf("expected StatisticOverflowError, got %v", err)
	}
	if !errors.Is(err, ErrStatisticOverflow) {
		t.Errorf("error does not wrap ErrStatisticOverflow: %v", err)
	}
	if soe.Sample != 1 || soe.Statistic != "sum" {
		t.Errorf("StatisticOverflowError = %+v, want sample 1 sum", soe)
	}

	if acc.Count() != 1 || acc.Sum(0) != 1 || acc.Sum(1) != math.MaxInt64-1 {
		t.Errorf("accumulator modified by failed fold: count=%d sums=%d/%d",
			acc.Count(), acc.Sum(0), acc.Sum(1))
	}
	if acc.SumSquares(0).Int64() != 1 {
		t.Errorf("sample 0 sumsq = %s, want 1", acc.SumSquares(0))
	}
}

func TestAccumulator_FoldSumOfSquaresWrap(t *testing.T) {
	acc := newAccumulator(1)
	acc.count = 1
	acc.sumSquares[0] = uint128{hi: math.MaxUint64, lo: math.MaxUint64 - 3}

	err := acc.Fold([]int64{2}, 0)
	var soe *StatisticOverflowError
	if !errors.As(err, &soe) || soe.Statistic != "sum of squares" {
		t.Fatalf("expected sum of squares overflow, got %v", err)
	}
	if acc.Count() != 1 || acc.Sum(0) != 0 {
		t.Errorf("accumulator modified by failed fold: count=%d sum=%d", acc.Count(), acc.Sum(0))
	}
}

func TestTable_StatisticOverflowNamesRecord(t *testing.T) {
	tbl := NewTable(ByChromosome{}, 0)
	if err := tbl.Observe(rec("chr7", 10, 1)); err != nil {
		t.Fatalf("Observe error: %v", err)
	}
	tbl.groups[tbl.order[0]].sums[0] = math.MaxInt64

	err := tbl.Observe(rec("chr7", 11, 1))
	var soe *StatisticOverflowError
	if !errors.As(err, &soe) {
		t.Fatalf("expected StatisticOverflowError, got %v", err)
	}
	if soe.Chrom != "chr7" || soe.Pos != 11 || soe.Sample != 0 {
		t.Errorf("StatisticOverflowError = %+v, want chr7:11 sample 0", soe)
	}
	if !strings.Contains(err.Error(), "chr7:11") {
		t.Errorf("error %q does not name the record", err)
	}
}
