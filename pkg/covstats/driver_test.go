package covstats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/eunmann/covstat/pkg/depth"
	"github.com/eunmann/covstat/pkg/membudget"
)

// sliceReader serves records from memory and, like the TSV reader, reuses
// its Depths buffer between calls.
type sliceReader struct {
	records []depth.Record
	buf     []int64
	i       int
	err     error
	errAt   int
}

func newSliceReader(records ...depth.Record) *sliceReader {
	return &sliceReader{records: records, errAt: -1}
}

func (r *sliceReader) Next() (depth.Record, error) {
	if r.i == r.errAt {
		return depth.Record{}, r.err
	}
	if r.i >= len(r.records) {
		return depth.Record{}, io.EOF
	}
	src := r.records[r.i]
	r.i++
	r.buf = append(r.buf[:0], src.Depths...)
	return depth.Record{Chrom: src.Chrom, Pos: src.Pos, Depths: r.buf}, nil
}

func (r *sliceReader) Close() error { return nil }

// genomeRecords builds chromosome-contiguous records with varying depths.
func genomeRecords(chroms, positions, samples int) []depth.Record {
	var out []depth.Record
	for c := 0; c < chroms; c++ {
		for p := 0; p < positions; p++ {
			depths := make([]int64, samples)
			for s := range depths {
				depths[s] = int64((c*7 + p*13 + s*3) % 50)
			}
			out = append(out, depth.Record{Chrom: fmt.Sprintf("chr%d", c+1), Pos: int64(p), Depths: depths})
		}
	}
	return out
}

func TestDriver_SequentialRun(t *testing.T) {
	d, err := NewDriver(DriverConfig{Strategy: ByChromosome{}})
	if err != nil {
		t.Fatalf("NewDriver error: %v", err)
	}
	if d.State() != StateIdle {
		t.Errorf("initial state = %s, want idle", d.State())
	}

	stats, err := d.Run(context.Background(), newSliceReader(rec("chr1", 1, 10, 20), rec("chr1", 2, 20, 30)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if d.State() != StateDone {
		t.Errorf("state = %s, want done", d.State())
	}
	if d.Records() != 2 {
		t.Errorf("Records() = %d, want 2", d.Records())
	}
	if len(stats) != 1 || stats[0].Samples[1] != (SampleStats{Mean: 25, StdDev: 5, Count: 2}) {
		t.Errorf("unexpected stats: %+v", stats)
	}

	if _, err := d.Run(context.Background(), newSliceReader()); !errors.Is(err, ErrDriverUsed) {
		t.Errorf("second Run: expected ErrDriverUsed, got %v", err)
	}
}

func TestDriver_ReuseBufferIsSafe(t *testing.T) {
	// Groups must not alias the reader's reused Depths buffer.
	w, _ := NewFixedWindow(1)
	d, _ := NewDriver(DriverConfig{Strategy: w})
	stats, err := d.Run(context.Background(), newSliceReader(rec("chr1", 0, 1), rec("chr1", 1, 9)))
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if stats[0].Samples[0].Mean != 1 || stats[1].Samples[0].Mean != 9 {
		t.Errorf("unexpected means: %v, %v", stats[0].Samples[0].Mean, stats[1].Samples[0].Mean)
	}
}

func TestDriver_EmptyInput(t *testing.T) {
	d, _ := NewDriver(DriverConfig{Strategy: ByChromosome{}})
	stats, err := d.Run(context.Background(), newSliceReader())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(stats) != 0 {
		t.Errorf("expected no groups, got %d", len(stats))
	}
}

func TestDriver_FailureStates(t *testing.T) {
	w, _ := NewFixedWindow(2)
	tests := []struct {
		name    string
		shards  int
		reader  *sliceReader
		wantErr error
	}{
		{
			name:    "sample mismatch",
			reader:  newSliceReader(rec("chr1", 0, 1, 2), rec("chr1", 1, 1)),
			wantErr: ErrSampleCountMismatch,
		},
		{
			name:    "sample mismatch sharded",
			shards:  3,
			reader:  newSliceReader(rec("chr1", 0, 1, 2), rec("chr2", 1, 1)),
			wantErr: ErrSampleCountMismatch,
		},
		{
			name:    "bin overflow",
			reader:  newSliceReader(rec("chr1", 0, 1), rec("chr1", 1, 1), rec("chr1", 1, 1)),
			wantErr: ErrBinOverflow,
		},
		{
			name:    "bin overflow sharded",
			shards:  2,
			reader:  newSliceReader(rec("chr1", 0, 1), rec("chr2", 0, 1), rec("chr2", 0, 1), rec("chr2", 1, 1)),
			wantErr: ErrBinOverflow,
		},
		{
			name: "malformed record",
			reader: func() *sliceReader {
				r := newSliceReader(rec("chr1", 0, 1))
				r.errAt = 1
				r.err = &depth.ParseError{Line: 2, Raw: "chr1\tx\t1", Reason: "invalid position"}
				return r
			}(),
			wantErr: depth.ErrMalformedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDriver(DriverConfig{Strategy: w, Shards: tt.shards, BatchSize: 1})
			if err != nil {
				t.Fatalf("NewDriver error: %v", err)
			}
			stats, err := d.Run(context.Background(), tt.reader)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if stats != nil {
				t.Error("expected no output on failure")
			}
			if d.State() != StateFailed {
				t.Errorf("state = %s, want failed", d.State())
			}
			if _, err := d.Run(context.Background(), newSliceReader()); !errors.Is(err, ErrDriverUsed) {
				t.Errorf("Run after failure: expected ErrDriverUsed, got %v", err)
			}
		})
	}
}

func TestDriver_FailedTableRetained(t *testing.T) {
	d, _ := NewDriver(DriverConfig{Strategy: ByChromosome{}})
	_, err := d.Run(context.Background(), newSliceReader(rec("chr1", 0, 1, 2), rec("chr1", 1, 3)))
	if err == nil {
		t.Fatal("expected error")
	}
	if d.Table() == nil || d.Table().Records() != 1 {
		t.Errorf("expected failed table with 1 record for diagnostics")
	}
}

func TestDriver_Canceled(t *testing.T) {
	for _, shards := range []int{1, 4} {
		t.Run(fmt.Sprintf("shards=%d", shards), func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			d, _ := NewDriver(DriverConfig{Strategy: ByChromosome{}, Shards: shards})
			_, err := d.Run(ctx, newSliceReader(genomeRecords(2, 10, 1)...))
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
			if d.State() != StateFailed {
				t.Errorf("state = %s, want failed", d.State())
			}
		})
	}
}

func TestNewDriver_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  DriverConfig
	}{
		{"no strategy", DriverConfig{}},
		{"negative shards", DriverConfig{Strategy: ByChromosome{}, Shards: -1}},
		{"negative progress", DriverConfig{Strategy: ByChromosome{}, ProgressEvery: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewDriver(tt.cfg); !errors.Is(err, ErrInvalidConfiguration) {
				t.Errorf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestDriver_ShardedMatchesSequential(t *testing.T) {
	records := genomeRecords(7, 300, 3)

	for _, mode := range []string{ModeChrom, ModeBin} {
		t.Run(mode, func(t *testing.T) {
			strategy, err := NewStrategy(mode, 25)
			if err != nil {
				t.Fatalf("NewStrategy error: %v", err)
			}

			seq, _ := NewDriver(DriverConfig{Strategy: strategy})
			want, err := seq.Run(context.Background(), newSliceReader(records...))
			if err != nil {
				t.Fatalf("sequential Run error: %v", err)
			}

			for _, shards := range []int{2, 3, 8} {
				par, _ := NewDriver(DriverConfig{Strategy: strategy, Shards: shards, BatchSize: 17})
				got, err := par.Run(context.Background(), newSliceReader(records...))
				if err != nil {
					t.Fatalf("sharded Run (%d) error: %v", shards, err)
				}
				if len(par.ShardTables()) != shards {
					t.Errorf("ShardTables() len = %d, want %d", len(par.ShardTables()), shards)
				}
				if par.Records() != int64(len(records)) {
					t.Errorf("Records() = %d, want %d", par.Records(), len(records))
				}
				if len(got) != len(want) {
					t.Fatalf("shards=%d: %d groups, want %d", shards, len(got), len(want))
				}
				for i := range want {
					if got[i].Key != want[i].Key {
						t.Fatalf("shards=%d: group %d = %s, want %s", shards, i, got[i].Key, want[i].Key)
					}
					for s := range want[i].Samples {
						if got[i].Samples[s] != want[i].Samples[s] {
							t.Errorf("shards=%d: %s sample %d = %+v, want %+v",
								shards, got[i].Key, s, got[i].Samples[s], want[i].Samples[s])
						}
					}
				}
			}
		})
	}
}

func TestDriver_ShardedNonContiguousOrder(t *testing.T) {
	// chr1 reappears after chr2. Sequential runs keep global first-seen
	// order; sharded runs order by each chromosome's first appearance, then
	// by first-seen order within that chromosome.
	records := []depth.Record{
		{Chrom: "chr1", Pos: 0, Depths: []int64{1}},
		{Chrom: "chr2", Pos: 0, Depths: []int64{2}},
		{Chrom: "chr1", Pos: 5, Depths: []int64{3}},
	}
	w, _ := NewFixedWindow(2)

	keys := func(groups []GroupStats) []string {
		out := make([]string, len(groups))
		for i, g := range groups {
			out[i] = g.Key.String()
		}
		return out
	}

	tests := []struct {
		shards int
		want   []string
	}{
		{1, []string{"chr1:0-2", "chr2:0-2", "chr1:4-6"}},
		{2, []string{"chr1:0-2", "chr1:4-6", "chr2:0-2"}},
		{3, []string{"chr1:0-2", "chr1:4-6", "chr2:0-2"}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.shards), func(t *testing.T) {
			d, err := NewDriver(DriverConfig{Strategy: w, Shards: tt.shards, BatchSize: 1})
			if err != nil {
				t.Fatalf("NewDriver error: %v", err)
			}
			got, err := d.Run(context.Background(), newSliceReader(records...))
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			gotKeys := keys(got)
			if fmt.Sprint(gotKeys) != fmt.Sprint(tt.want) {
				t.Errorf("order = %v, want %v", gotKeys, tt.want)
			}
		})
	}
}

func TestDriver_MaxDepthStatistics(t *testing.T) {
	// Squares of these depths overflow an int64 sum after three rows.
	input := "chr1\t0\t2147483647\nchr1\t1\t2147483647\nchr1\t2\t2147483647\nchr1\t3\t0\n"
	for _, shards := range []int{1, 2} {
		t.Run(fmt.Sprintf("shards=%d", shards), func(t *testing.T) {
			d, _ := NewDriver(DriverConfig{Strategy: ByChromosome{}, Shards: shards})
			groups, err := d.Run(context.Background(), depth.NewTSVReader(strings.NewReader(input)))
			if err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if len(groups) != 1 {
				t.Fatalf("got %d groups, want 1", len(groups))
			}
			const m = float64(depth.MaxDepth)
			got := groups[0].Samples[0]
			wantSD := math.Sqrt(3) * m / 4
			if got.Count != 4 || got.Mean != 3*m/4 {
				t.Errorf("count/mean = %d/%v, want 4/%v", got.Count, got.Mean, 3*m/4)
			}
			if math.Abs(got.StdDev-wantSD)/wantSD > 1e-12 {
				t.Errorf("stddev = %v, want %v", got.StdDev, wantSD)
			}
		})
	}
}

func TestDriver_MemoryBudget(t *testing.T) {
	budget := membudget.New(1, membudget.BudgetSourceConfig)
	w, _ := NewFixedWindow(1)
	d, _ := NewDriver(DriverConfig{Strategy: w, Budget: budget, ProgressEvery: 100})

	if _, err := d.Run(context.Background(), newSliceReader(genomeRecords(1, cancelCheckInterval, 1)...)); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !d.memWarned.Load() {
		t.Error("expected over-budget warning")
	}
	if budget.InUse() != 0 {
		t.Errorf("budget InUse() = %d after run, want 0", budget.InUse())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:       "idle",
		StateStreaming:  "streaming",
		StateFinalizing: "finalizing",
		StateDone:       "done",
		StateFailed:     "failed",
		State(42):       "State(42)",
	} {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}
