package benchutil

import (
	"bytes"
	"io"
	"testing"

	"github.com/eunmann/covstat/pkg/depth"
)

func TestGeneratorDeterministic(t *testing.T) {
	cfg := GeneratorConfig{Chromosomes: 3, Positions: 50, Samples: 2, MeanDepth: 10, Seed: 7}

	a := NewGenerator(cfg).Generate()
	b := NewGenerator(cfg).Generate()

	if len(a) != 150 {
		t.Fatalf("got %d records, want 150", len(a))
	}
	for i := range a {
		if a[i].Chrom != b[i].Chrom || a[i].Pos != b[i].Pos {
			t.Fatalf("record %d differs: %+v vs %+v", i, a[i], b[i])
		}
		for s := range a[i].Depths {
			if a[i].Depths[s] != b[i].Depths[s] {
				t.Fatalf("record %d sample %d differs", i, s)
			}
			if d := a[i].Depths[s]; d < 0 || d > 20 {
				t.Fatalf("depth %d out of range", d)
			}
		}
	}
	if a[0].Chrom != "chr1" || a[0].Pos != 1 || a[149].Chrom != "chr3" || a[149].Pos != 50 {
		t.Errorf("unexpected layout: first %s:%d last %s:%d", a[0].Chrom, a[0].Pos, a[149].Chrom, a[149].Pos)
	}
}

func TestGeneratorTSVRoundTrip(t *testing.T) {
	cfg := GeneratorConfig{Chromosomes: 2, Positions: 20, Samples: 3, MeanDepth: 5, DropoutRate: 0.1}

	var buf bytes.Buffer
	if err := NewGenerator(cfg).WriteTSV(&buf); err != nil {
		t.Fatal(err)
	}
	want := NewGenerator(cfg).Generate()

	r := depth.NewTSVReader(&buf)
	for i := 0; ; i++ {
		rec, err := r.Next()
		if err == io.EOF {
			if i != len(want) {
				t.Fatalf("read %d records, want %d", i, len(want))
			}
			return
		}
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if rec.Chrom != want[i].Chrom || rec.Pos != want[i].Pos || len(rec.Depths) != 3 {
			t.Fatalf("record %d = %+v, want %+v", i, rec, want[i])
		}
		for s, d := range rec.Depths {
			if d != want[i].Depths[s] {
				t.Fatalf("record %d sample %d = %d, want %d", i, s, d, want[i].Depths[s])
			}
		}
	}
}

func TestGeneratorEmpty(t *testing.T) {
	if recs := NewGenerator(GeneratorConfig{Chromosomes: 2, Samples: 1}).Generate(); len(recs) != 0 {
		t.Errorf("got %d records, want 0", len(recs))
	}
}
