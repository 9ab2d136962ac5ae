// Package benchutil provides synthetic depth tables for benchmarks and tests.
package benchutil

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"github.com/eunmann/covstat/pkg/depth"
)

// GeneratorConfig configures synthetic depth table generation.
type GeneratorConfig struct {
	// Chromosomes is the number of chromosomes, named chr1..chrN.
	Chromosomes int
	// Positions is the number of consecutive positions per chromosome.
	Positions int
	// Samples is the number of depth columns per record.
	Samples int
	// MeanDepth is the average depth. Depths are uniform in [0, 2*MeanDepth].
	MeanDepth int
	// DropoutRate is the probability that a sample has depth 0 at a position.
	DropoutRate float64
	// Seed for reproducible generation. 0 = use BenchmarkSeed.
	Seed int64
}

// DefaultConfig returns a whole-genome-like shape scaled to positions per
// chromosome.
func DefaultConfig(positions, samples int) GeneratorConfig {
	return GeneratorConfig{
		Chromosomes: 24,
		Positions:   positions,
		Samples:     samples,
		MeanDepth:   30,
		DropoutRate: 0.02,
		Seed:        BenchmarkSeed,
	}
}

// Generator generates synthetic depth records in chromosome-contiguous,
// position-sorted order, like samtools depth output.
type Generator struct {
	cfg   GeneratorConfig
	rng   *rand.Rand
	names []string
}

// NewGenerator creates a new data generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = BenchmarkSeed
	}
	names := make([]string, cfg.Chromosomes)
	for i := range names {
		names[i] = "chr" + strconv.Itoa(i+1)
	}
	return &Generator{
		cfg:   cfg,
		rng:   rand.New(rand.NewSource(seed)),
		names: names,
	}
}

// Total returns the number of records the generator produces.
func (g *Generator) Total() int64 {
	return int64(g.cfg.Chromosomes) * int64(g.cfg.Positions)
}

// Generate returns every record. Each record owns its Depths slice.
func (g *Generator) Generate() []depth.Record {
	records := make([]depth.Record, 0, g.Total())
	r := g.Reader()
	for {
		rec, err := r.Next()
		if err != nil {
			return records
		}
		records = append(records, rec.Clone())
	}
}

// WriteTSV writes the table in depth-file format.
func (g *Generator) WriteTSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var line []byte
	r := g.Reader()
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		line = append(line[:0], rec.Chrom...)
		line = append(line, '\t')
		line = strconv.AppendInt(line, rec.Pos, 10)
		for _, d := range rec.Depths {
			line = append(line, '\t')
			line = strconv.AppendInt(line, d, 10)
		}
		line = append(line, '\n')
		if _, err := bw.Write(line); err != nil {
			return fmt.Errorf("write synthetic table: %w", err)
		}
	}
	return bw.Flush()
}

// Reader returns a depth.Reader over the generated records. Like the TSV
// reader, it reuses the Depths slice between calls.
func (g *Generator) Reader() depth.Reader {
	return &genReader{g: g, depths: make([]int64, g.cfg.Samples)}
}

func (g *Generator) depth() int64 {
	if g.cfg.DropoutRate > 0 && g.rng.Float64() < g.cfg.DropoutRate {
		return 0
	}
	if g.cfg.MeanDepth <= 0 {
		return 0
	}
	return int64(g.rng.Intn(2*g.cfg.MeanDepth + 1))
}

type genReader struct {
	g      *Generator
	chrom  int
	pos    int
	depths []int64
}

func (r *genReader) Next() (depth.Record, error) {
	if r.pos >= r.g.cfg.Positions {
		r.chrom++
		r.pos = 0
	}
	if r.chrom >= r.g.cfg.Chromosomes || r.g.cfg.Positions == 0 {
		return depth.Record{}, io.EOF
	}
	for i := range r.depths {
		r.depths[i] = r.g.depth()
	}
	rec := depth.Record{Chrom: r.g.names[r.chrom], Pos: int64(r.pos) + 1, Depths: r.depths}
	r.pos++
	return rec, nil
}

func (r *genReader) Close() error { return nil }
