// Package statsindex persists finalized group statistics into a directory
// index that answers point lookups without re-reading the depth table.
//
// Layout (all arrays carry the format header):
//
//	mph.bin          bbhash minimal perfect hash over GroupKey.String()
//	mph_fp.u64       key fingerprints, by slot
//	keys.bin         group keys, by slot, with key_offsets.u64
//	counts.u64       record count of each group, by slot
//	stats.f64        mean and stddev per sample: [slot][sample][mean, stddev]
//	manifest.json    grouping mode, bin size, sample count, checksums
package statsindex

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/eunmann/covstat/pkg/fileutil"
	"github.com/eunmann/covstat/pkg/format"
)

// Data file names.
const (
	CountsFile = "counts.u64"
	StatsFile  = "stats.f64"
)

var (
	// ErrCorruptIndex indicates index files that disagree with the manifest.
	ErrCorruptIndex = errors.New("corrupt stats index")
	// ErrPositionRequired indicates a chromosome-only query against a
	// windowed index.
	ErrPositionRequired = errors.New("windowed index requires a position")
)

var dataFiles = []string{
	format.MPHFile,
	format.FingerprintFile,
	format.KeyBlobFile,
	format.KeyOffsetsFile,
	CountsFile,
	StatsFile,
}

// Meta describes how the indexed statistics were produced.
type Meta struct {
	Mode    string
	BinSize int64
	RunID   string
}

// Build writes groups into an index at dir, replacing any previous index
// once the new one is complete. All groups must have the same sample count.
func Build(dir string, groups []covstats.GroupStats, meta Meta) error {
	samples := 0
	if len(groups) > 0 {
		samples = len(groups[0].Samples)
	}
	for _, g := range groups {
		if len(g.Samples) != samples {
			return fmt.Errorf("group %s has %d samples, want %d", g.Key, len(g.Samples), samples)
		}
	}

	return fileutil.ReplaceDir(dir, func(tmpDir string) error {
		builder := format.NewMPHFBuilder()
		for _, g := range groups {
			builder.Add(g.Key.String())
		}
		slots, err := builder.Build(tmpDir)
		if err != nil {
			return fmt.Errorf("build key hash: %w", err)
		}

		bySlot := make([]int, len(groups))
		for i, slot := range slots {
			bySlot[slot] = i
		}

		if err := writeColumns(tmpDir, groups, bySlot); err != nil {
			return err
		}

		manifest := format.Manifest{
			RunID:   meta.RunID,
			Mode:    meta.Mode,
			BinSize: meta.BinSize,
			Samples: samples,
			Groups:  uint64(len(groups)),
		}
		if err := format.WriteManifest(tmpDir, manifest, dataFiles); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		return nil
	})
}

func writeColumns(dir string, groups []covstats.GroupStats, bySlot []int) error {
	counts, err := format.NewArrayWriter(filepath.Join(dir, CountsFile), 8)
	if err != nil {
		return fmt.Errorf("create counts: %w", err)
	}
	stats, err := format.NewArrayWriter(filepath.Join(dir, StatsFile), 8)
	if err != nil {
		counts.Close()
		return fmt.Errorf("create stats: %w", err)
	}

	writeErr := func() error {
		for _, idx := range bySlot {
			g := groups[idx]
			var count int64
			if len(g.Samples) > 0 {
				count = g.Samples[0].Count
			}
			if err := counts.WriteU64(uint64(count)); err != nil {
				return err
			}
			for _, s := range g.Samples {
				if err := stats.WriteF64(s.Mean); err != nil {
					return err
				}
				if err := stats.WriteF64(s.StdDev); err != nil {
					return err
				}
			}
		}
		return nil
	}()

	cerr := counts.Close()
	serr := stats.Close()
	switch {
	case writeErr != nil:
		return fmt.Errorf("write columns: %w", writeErr)
	case cerr != nil:
		return fmt.Errorf("close counts: %w", cerr)
	case serr != nil:
		return fmt.Errorf("close stats: %w", serr)
	}
	return nil
}
