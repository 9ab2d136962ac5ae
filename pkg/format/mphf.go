package format

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"github.com/relab/bbhash"
)

// File names written by MPHFBuilder.Build.
const (
	MPHFile         = "mph.bin"
	FingerprintFile = "mph_fp.u64"
	KeyBlobFile     = "keys.bin"
	KeyOffsetsFile  = "key_offsets.u64"
)

// MPHFBuilder builds a minimal perfect hash function over string keys.
type MPHFBuilder struct {
	keys []string
}

// NewMPHFBuilder creates a new MPHF builder.
func NewMPHFBuilder() *MPHFBuilder {
	return &MPHFBuilder{}
}

// Add adds a key. Keys must be unique.
func (b *MPHFBuilder) Add(key string) {
	b.keys = append(b.keys, key)
}

// Build constructs the MPHF and writes it, the key fingerprints and the key
// blob (in slot order) to outDir. It returns the slot of every added key,
// in insertion order, so callers can lay out value arrays by slot.
func (b *MPHFBuilder) Build(outDir string) ([]uint64, error) {
	if len(b.keys) == 0 {
		return nil, b.writeEmpty(outDir)
	}

	hashes := make([]uint64, len(b.keys))
	for i, k := range b.keys {
		hashes[i] = hashString(k)
	}

	mph, err := bbhash.New(hashes, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build MPHF: %w", err)
	}

	data, err := mph.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal MPHF: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outDir, MPHFile), data, 0o644); err != nil {
		return nil, fmt.Errorf("write MPHF: %w", err)
	}

	// bbhash returns 1-indexed values; slots are 0-indexed.
	slots := make([]uint64, len(b.keys))
	ordered := make([]string, len(b.keys))
	fingerprints := make([]uint64, len(b.keys))
	for i, k := range b.keys {
		hashVal := mph.Find(hashes[i])
		if hashVal == 0 {
			return nil, fmt.Errorf("MPHF lookup failed for %q", k)
		}
		slot := hashVal - 1
		slots[i] = slot
		ordered[slot] = k
		fingerprints[slot] = computeFingerprint(k)
	}

	fpWriter, err := NewArrayWriter(filepath.Join(outDir, FingerprintFile), 8)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint writer: %w", err)
	}
	for _, fp := range fingerprints {
		if err := fpWriter.WriteU64(fp); err != nil {
			fpWriter.Close()
			return nil, fmt.Errorf("write fingerprint: %w", err)
		}
	}
	if err := fpWriter.Close(); err != nil {
		return nil, fmt.Errorf("close fingerprint writer: %w", err)
	}

	if err := WriteKeyBlob(outDir, ordered); err != nil {
		return nil, fmt.Errorf("write key blob: %w", err)
	}

	return slots, nil
}

func (b *MPHFBuilder) writeEmpty(outDir string) error {
	if err := os.WriteFile(filepath.Join(outDir, MPHFile), nil, 0o644); err != nil {
		return fmt.Errorf("write empty mph: %w", err)
	}

	fpWriter, err := NewArrayWriter(filepath.Join(outDir, FingerprintFile), 8)
	if err != nil {
		return err
	}
	if err := fpWriter.Close(); err != nil {
		return err
	}
	return WriteKeyBlob(outDir, nil)
}

// Count returns the number of keys added.
func (b *MPHFBuilder) Count() int {
	return len(b.keys)
}

// MPHF provides read access to a minimal perfect hash function.
type MPHF struct {
	mph          *bbhash.BBHash2
	fingerprints *ArrayReader
	keys         *BlobReader
	count        uint64
}

// OpenMPHF opens an MPHF from the given directory.
func OpenMPHF(dir string) (*MPHF, error) {
	mphPath := filepath.Join(dir, MPHFile)

	info, err := os.Stat(mphPath)
	if err != nil {
		return nil, fmt.Errorf("stat mph file: %w", err)
	}
	if info.Size() == 0 {
		return &MPHF{}, nil
	}

	mphData, err := os.ReadFile(mphPath)
	if err != nil {
		return nil, fmt.Errorf("read mph file: %w", err)
	}

	mph := &bbhash.BBHash2{}
	if err := mph.UnmarshalBinary(mphData); err != nil {
		return nil, fmt.Errorf("unmarshal MPHF: %w", err)
	}

	fingerprints, err := OpenArray(filepath.Join(dir, FingerprintFile))
	if err != nil {
		return nil, fmt.Errorf("open fingerprints: %w", err)
	}

	keys, err := OpenBlob(filepath.Join(dir, KeyBlobFile), filepath.Join(dir, KeyOffsetsFile))
	if err != nil {
		fingerprints.Close()
		return nil, fmt.Errorf("open key blob: %w", err)
	}

	return &MPHF{
		mph:          mph,
		fingerprints: fingerprints,
		keys:         keys,
		count:        fingerprints.Count(),
	}, nil
}

// Close releases resources.
func (m *MPHF) Close() error {
	var firstErr error
	if m.fingerprints != nil {
		if err := m.fingerprints.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.keys != nil {
		if err := m.keys.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Lookup returns the slot of key, or ok=false if it is not present.
// A fingerprint check rejects almost all absent keys; LookupWithVerify
// rules them out entirely.
func (m *MPHF) Lookup(key string) (slot uint64, ok bool) {
	if m.count == 0 || m.mph == nil {
		return 0, false
	}

	hashVal := m.mph.Find(hashString(key))
	if hashVal == 0 {
		return 0, false
	}
	slot = hashVal - 1
	if slot >= m.count {
		return 0, false
	}

	if m.fingerprints.UnsafeGetU64(slot) != computeFingerprint(key) {
		return 0, false
	}
	return slot, true
}

// LookupWithVerify is Lookup followed by a comparison with the stored key.
func (m *MPHF) LookupWithVerify(key string) (slot uint64, ok bool) {
	slot, ok = m.Lookup(key)
	if !ok {
		return 0, false
	}
	stored, err := m.keys.Get(slot)
	if err != nil || stored != key {
		return 0, false
	}
	return slot, true
}

// GetKey returns the key stored at slot.
func (m *MPHF) GetKey(slot uint64) (string, error) {
	if m.keys == nil {
		return "", ErrBoundsCheck
	}
	return m.keys.Get(slot)
}

// Count returns the number of keys in the MPHF.
func (m *MPHF) Count() uint64 {
	return m.count
}

// hashString computes the bbhash input key for a string.
func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// computeFingerprint uses a different hash than hashString.
func computeFingerprint(s string) uint64 {
	h := fnv.New64()
	h.Write([]byte(s))
	return h.Sum64()
}

// VerifyMPHF checks that every stored key looks up to its own slot.
func VerifyMPHF(m *MPHF) error {
	for i := uint64(0); i < m.count; i++ {
		key, err := m.keys.Get(i)
		if err != nil {
			return fmt.Errorf("get key %d: %w", i, err)
		}

		slot, ok := m.Lookup(key)
		if !ok {
			return fmt.Errorf("lookup failed for key %q at slot %d", key, i)
		}
		if slot != i {
			return fmt.Errorf("lookup returned wrong slot for %q: got %d, want %d", key, slot, i)
		}
	}
	return nil
}

// WriteKeyBlob writes keys, in order, to the key blob of outDir.
func WriteKeyBlob(outDir string, keys []string) error {
	writer, err := NewBlobWriter(filepath.Join(outDir, KeyBlobFile), filepath.Join(outDir, KeyOffsetsFile))
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := writer.WriteString(k); err != nil {
			writer.Close()
			return err
		}
	}
	return writer.Close()
}
