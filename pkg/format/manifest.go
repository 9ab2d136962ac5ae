package format

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// ManifestFile is the manifest file name inside an index directory.
const ManifestFile = "manifest.json"

// Manifest describes an index directory: how the statistics were grouped
// and a checksum for every data file.
type Manifest struct {
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	RunID     string              `json:"run_id,omitempty"`
	Mode      string              `json:"mode"`
	BinSize   int64               `json:"bin_size,omitempty"`
	Samples   int                 `json:"samples"`
	Groups    uint64              `json:"groups"`
	Files     map[string]FileInfo `json:"files"`
}

// FileInfo describes a single file in the index.
type FileInfo struct {
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // SHA-256 hex
}

// WriteManifest checksums every file of names present in dir and writes m
// as the directory manifest. Version, CreatedAt and Files are filled in.
func WriteManifest(dir string, m Manifest, names []string) error {
	m.Version = ManifestVersion
	m.CreatedAt = time.Now().UTC()
	m.Files = make(map[string]FileInfo, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", name, err)
		}

		checksum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}

		m.Files[name] = FileInfo{
			Size:     info.Size(),
			Checksum: checksum,
		}
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	if err := writeFileSync(filepath.Join(dir, ManifestFile), data); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// ReadManifest reads the manifest from the index directory.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	if manifest.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: manifest version %d", ErrVersionMismatch, manifest.Version)
	}

	return &manifest, nil
}

// VerifyManifest checks that all files match their sizes and checksums.
func VerifyManifest(dir string, manifest *Manifest) error {
	for name, info := range manifest.Files {
		path := filepath.Join(dir, name)

		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("file %s: %w", name, err)
		}

		if stat.Size() != info.Size {
			return fmt.Errorf("file %s: size mismatch (got %d, want %d)",
				name, stat.Size(), info.Size)
		}

		checksum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", name, err)
		}

		if checksum != info.Checksum {
			return fmt.Errorf("file %s: checksum mismatch", name)
		}
	}

	return nil
}

// checksumFile computes the SHA-256 checksum of a file.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// writeFileSync writes data to a file and fsyncs it.
func writeFileSync(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// SyncDir fsyncs a directory to ensure entries are persisted.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Sync()
}
