package covstats

import (
	"errors"
	"testing"

	"github.com/eunmann/covstat/pkg/depth"
)

func rec(chrom string, pos int64, depths ...int64) depth.Record {
	return depth.Record{Chrom: chrom, Pos: pos, Depths: depths}
}

func observeAll(t *testing.T, table *Table, records ...depth.Record) {
	t.Helper()
	for _, r := range records {
		if err := table.Observe(r); err != nil {
			t.Fatalf("Observe(%s:%d) error: %v", r.Chrom, r.Pos, err)
		}
	}
}

func TestTable_WholeChromosomeExample(t *testing.T) {
	table := NewTable(ByChromosome{}, 0)
	observeAll(t, table, rec("chr1", 1, 10, 20), rec("chr1", 2, 20, 30))

	stats, err := table.Finalize()
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if len(stats) != 1 || stats[0].Key.Chrom != "chr1" {
		t.Fatalf("unexpected groups: %+v", stats)
	}
	want := []SampleStats{{Mean: 15, StdDev: 5, Count: 2}, {Mean: 25, StdDev: 5, Count: 2}}
	for i, s := range stats[0].Samples {
		if s != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, s, want[i])
		}
	}
}

func TestTable_FixedWindowExample(t *testing.T) {
	w, _ := NewFixedWindow(2)
	table := NewTable(w, 0)
	observeAll(t, table, rec("chr1", 0, 4), rec("chr1", 1, 6))

	stats, err := table.Finalize()
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("expected 1 group, got %d", len(stats))
	}
	key := stats[0].Key
	if key.Chrom != "chr1" || key.Start != 0 || key.End != 2 {
		t.Errorf("key = %s, want chr1:0-2", key)
	}
	if got := stats[0].Samples[0]; got != (SampleStats{Mean: 5, StdDev: 1, Count: 2}) {
		t.Errorf("stats = %+v, want mean 5 stddev 1 count 2", got)
	}
}

func TestTable_FirstSeenOrder(t *testing.T) {
	table := NewTable(ByChromosome{}, 0)
	observeAll(t, table,
		rec("chr2", 1, 1),
		rec("chr10", 1, 1),
		rec("chr1", 1, 1),
		rec("chr2", 2, 1),
		rec("chrX", 1, 1),
	)

	want := []string{"chr2", "chr10", "chr1", "chrX"}
	keys := table.Keys()
	if len(keys) != len(want) {
		t.Fatalf("got %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if k.Chrom != want[i] {
			t.Errorf("key %d = %s, want %s", i, k, want[i])
		}
	}
	if table.Records() != 5 {
		t.Errorf("Records() = %d, want 5", table.Records())
	}
}

func TestTable_FinalizeIsIdempotent(t *testing.T) {
	table := NewTable(ByChromosome{}, 0)
	observeAll(t, table, rec("chr1", 1, 3, 9), rec("chr1", 2, 5, 1))

	first, err := table.Finalize()
	if err != nil {
		t.Fatalf("Finalize error: %v", err)
	}
	second, err := table.Finalize()
	if err != nil {
		t.Fatalf("second Finalize error: %v", err)
	}
	for i := range first[0].Samples {
		if first[0].Samples[i] != second[0].Samples[i] {
			t.Errorf("sample %d differs between finalizations: %+v vs %+v",
				i, first[0].Samples[i], second[0].Samples[i])
		}
	}
}

func TestTable_SampleCountMismatch(t *testing.T) {
	table := NewTable(ByChromosome{}, 0)
	observeAll(t, table, rec("chr1", 1, 1, 2, 3))

	err := table.Observe(rec("chr1", 2, 1, 2))
	var sce *SampleCountError
	if !errors.As(err, &sce) {
		t.Fatalf("expected SampleCountError, got %v", err)
	}
	if !errors.Is(err, ErrSampleCountMismatch) {
		t.Error("expected error to wrap ErrSampleCountMismatch")
	}
	if sce.Chrom != "chr1" || sce.Pos != 2 || sce.Want != 3 || sce.Got != 2 {
		t.Errorf("SampleCountError = %+v", sce)
	}

	// A fixed sample count rejects the very first record too.
	fixed := NewTable(ByChromosome{}, 2)
	if err := fixed.Observe(rec("chr1", 1, 1)); !errors.Is(err, ErrSampleCountMismatch) {
		t.Errorf("expected ErrSampleCountMismatch, got %v", err)
	}
	if fixed.Len() != 0 {
		t.Errorf("rejected record created a group")
	}
}

func TestTable_BinOverflow(t *testing.T) {
	w, _ := NewFixedWindow(2)
	table := NewTable(w, 0)
	observeAll(t, table, rec("chr1", 0, 1), rec("chr1", 1, 1))

	err := table.Observe(rec("chr1", 1, 1))
	var boe *BinOverflowError
	if !errors.As(err, &boe) {
		t.Fatalf("expected BinOverflowError, got %v", err)
	}
	if !errors.Is(err, ErrBinOverflow) {
		t.Error("expected error to wrap ErrBinOverflow")
	}
	if boe.Chrom != "chr1" || boe.Pos != 1 || boe.Start != 0 || boe.End != 2 || boe.BinSize != 2 {
		t.Errorf("BinOverflowError = %+v", boe)
	}
}

func TestTable_ChromosomesAreIndependent(t *testing.T) {
	w, _ := NewFixedWindow(10)
	table := NewTable(w, 0)
	observeAll(t, table,
		rec("chr1", 5, 2),
		rec("chr2", 5, 8),
		rec("chr1", 15, 4),
	)

	keys := table.Keys()
	want := []string{"chr1:0-10", "chr2:0-10", "chr1:10-20"}
	for i, k := range keys {
		if k.String() != want[i] {
			t.Errorf("key %d = %s, want %s", i, k, want[i])
		}
	}

	acc, ok := table.Lookup(GroupKey{Chrom: "chr2", Start: 0, End: 10, Windowed: true})
	if !ok {
		t.Fatal("chr2:0-10 not found")
	}
	if acc.Sum(0) != 8 {
		t.Errorf("chr2 sum = %d, want 8", acc.Sum(0))
	}
	if table.EstimatedMemoryUsage() <= 0 {
		t.Error("expected positive memory estimate")
	}
}
