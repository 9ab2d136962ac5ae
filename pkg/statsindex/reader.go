package statsindex

import (
	"fmt"
	"path/filepath"

	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/eunmann/covstat/pkg/fileutil"
	"github.com/eunmann/covstat/pkg/format"
)

// Index is an opened stats index. It is safe for concurrent lookups.
type Index struct {
	dir      string
	manifest *format.Manifest
	strategy covstats.Strategy
	mph      *format.MPHF
	counts   *format.ArrayReader
	stats    *format.ArrayReader
}

// Open maps the index at dir after checking its arrays against the manifest.
func Open(dir string) (*Index, error) {
	manifest, err := format.ReadManifest(dir)
	if err != nil {
		return nil, err
	}

	strategy, err := covstats.NewStrategy(manifest.Mode, manifest.BinSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}

	groups, samples := manifest.Groups, uint64(manifest.Samples)
	if !fileutil.ColumnFileValid(filepath.Join(dir, CountsFile), groups, 8) ||
		!fileutil.ColumnFileValid(filepath.Join(dir, StatsFile), groups*samples*2, 8) {
		return nil, fmt.Errorf("%w: data arrays do not match manifest (%d groups, %d samples)",
			ErrCorruptIndex, groups, samples)
	}

	mph, err := format.OpenMPHF(dir)
	if err != nil {
		return nil, fmt.Errorf("open key hash: %w", err)
	}
	if mph.Count() != groups {
		mph.Close()
		return nil, fmt.Errorf("%w: key hash has %d keys, manifest %d", ErrCorruptIndex, mph.Count(), groups)
	}

	counts, err := format.OpenArray(filepath.Join(dir, CountsFile))
	if err != nil {
		mph.Close()
		return nil, fmt.Errorf("open counts: %w", err)
	}
	stats, err := format.OpenArray(filepath.Join(dir, StatsFile))
	if err != nil {
		mph.Close()
		counts.Close()
		return nil, fmt.Errorf("open stats: %w", err)
	}

	return &Index{
		dir:      dir,
		manifest: manifest,
		strategy: strategy,
		mph:      mph,
		counts:   counts,
		stats:    stats,
	}, nil
}

// Close releases all mappings.
func (ix *Index) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{ix.mph, ix.counts, ix.stats} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Manifest returns the index manifest.
func (ix *Index) Manifest() format.Manifest {
	return *ix.manifest
}

// Len returns the number of indexed groups.
func (ix *Index) Len() int {
	return int(ix.manifest.Groups)
}

// Samples returns the number of samples per group.
func (ix *Index) Samples() int {
	return ix.manifest.Samples
}

// Lookup returns the statistics of a group.
func (ix *Index) Lookup(key covstats.GroupKey) (covstats.GroupStats, bool, error) {
	slot, ok := ix.mph.LookupWithVerify(key.String())
	if !ok {
		return covstats.GroupStats{}, false, nil
	}

	count, err := ix.counts.GetU64(slot)
	if err != nil {
		return covstats.GroupStats{}, false, fmt.Errorf("read count: %w", err)
	}

	n := uint64(ix.manifest.Samples)
	out := covstats.GroupStats{Key: key, Samples: make([]covstats.SampleStats, n)}
	base := slot * n * 2
	for s := uint64(0); s < n; s++ {
		mean, err := ix.stats.GetF64(base + 2*s)
		if err != nil {
			return covstats.GroupStats{}, false, fmt.Errorf("read mean: %w", err)
		}
		sd, err := ix.stats.GetF64(base + 2*s + 1)
		if err != nil {
			return covstats.GroupStats{}, false, fmt.Errorf("read stddev: %w", err)
		}
		out.Samples[s] = covstats.SampleStats{Mean: mean, StdDev: sd, Count: int64(count)}
	}
	return out, true, nil
}

// LookupChrom returns the statistics of a whole chromosome. It fails with
// ErrPositionRequired on a windowed index.
func (ix *Index) LookupChrom(chrom string) (covstats.GroupStats, bool, error) {
	if ix.strategy.Capacity() > 0 {
		return covstats.GroupStats{}, false, ErrPositionRequired
	}
	return ix.Lookup(covstats.GroupKey{Chrom: chrom})
}

// LookupPosition returns the statistics of the group containing chrom:pos,
// using the grouping recorded in the manifest.
func (ix *Index) LookupPosition(chrom string, pos int64) (covstats.GroupStats, bool, error) {
	key, err := ix.strategy.Assign(chrom, pos)
	if err != nil {
		return covstats.GroupStats{}, false, err
	}
	return ix.Lookup(key)
}

// Verify checks file checksums and that every key hashes to its own slot.
func (ix *Index) Verify() error {
	if err := format.VerifyManifest(ix.dir, ix.manifest); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	if err := format.VerifyMPHF(ix.mph); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptIndex, err)
	}
	return nil
}
