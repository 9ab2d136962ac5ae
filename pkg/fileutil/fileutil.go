// Package fileutil provides tmp+mv file helpers so that outputs and index
// directories only appear once they are complete.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/eunmann/covstat/pkg/format"
	"github.com/eunmann/covstat/pkg/logging"
)

// Exists returns true if the file exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ColumnFileValid checks that a columnar array file has a valid header with
// the expected element count and width, and a matching size.
func ColumnFileValid(path string, expectedN uint64, expectedWidth uint32) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	headerBuf := make([]byte, format.HeaderSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		return false
	}
	h, err := format.DecodeHeader(headerBuf)
	if err != nil {
		return false
	}
	if h.Magic != format.MagicNumber || h.Version != format.Version {
		return false
	}
	if h.Count != expectedN || h.Width != expectedWidth {
		return false
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Size() == int64(format.HeaderSize)+int64(expectedN)*int64(expectedWidth)
}

// WriteTmpThenMove writes to a temporary file then atomically moves it to
// the final path. writeFunc receives the temporary path and must write the
// complete file. On error nothing is left at outPath.
func WriteTmpThenMove(tmpDir, outPath string, writeFunc func(tmpPath string) error) error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	tmpPath := filepath.Join(tmpDir, filepath.Base(outPath)+".tmp")

	if err := writeFunc(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := syncPath(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("create output dir: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp to final: %w", err)
	}

	return nil
}

// ReplaceDir builds a directory at outDir+".tmp" with buildFunc, then
// replaces outDir with it. On error the previous outDir is left untouched.
func ReplaceDir(outDir string, buildFunc func(tmpDir string) error) error {
	tmpDir := filepath.Clean(outDir) + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return fmt.Errorf("remove stale tmp dir: %w", err)
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("create tmp dir: %w", err)
	}

	if err := buildFunc(tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return err
	}

	if err := syncPath(tmpDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("sync tmp dir: %w", err)
	}

	if err := os.RemoveAll(outDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("remove previous dir: %w", err)
	}
	if err := os.Rename(tmpDir, outDir); err != nil {
		os.RemoveAll(tmpDir)
		return fmt.Errorf("rename tmp dir to final: %w", err)
	}
	return nil
}

// syncPath opens, syncs, and closes a file or directory.
func syncPath(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	err = f.Sync()
	f.Close()
	return err
}

// CleanupTmpFiles removes all .tmp files in the given directory recursively.
func CleanupTmpFiles(dir string) error {
	log := logging.L()

	var removed int
	err := filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil //nolint:nilerr
		}
		if !info.IsDir() && strings.HasSuffix(path, ".tmp") {
			if rmErr := os.Remove(path); rmErr == nil {
				removed++
			}
		}
		return nil
	})

	if removed > 0 {
		log.Debug().Int("files_removed", removed).Str("dir", dir).Msg("cleaned up tmp files")
	}

	return err
}
