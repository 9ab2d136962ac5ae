package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"golang.org/x/sys/unix"
)

// MmapFile represents a read-only memory-mapped file.
type MmapFile struct {
	data []byte
	size int64
}

// OpenMmap opens a file and maps it into memory.
func OpenMmap(path string) (*MmapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	size := info.Size()
	if size == 0 {
		return &MmapFile{}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &MmapFile{data: data, size: size}, nil
}

// Close unmaps the file.
func (m *MmapFile) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	return nil
}

// Data returns the raw memory-mapped bytes.
func (m *MmapFile) Data() []byte {
	return m.data
}

// Size returns the file size.
func (m *MmapFile) Size() int64 {
	return m.size
}

// ArrayReader provides read access to a columnar array via mmap.
//
// ArrayReader is safe for concurrent reads. Close must be called once, after
// all reads have completed.
type ArrayReader struct {
	mmap   *MmapFile
	header Header
	data   []byte
}

// OpenArray opens a columnar array file and validates its header.
func OpenArray(path string) (*ArrayReader, error) {
	mmap, err := OpenMmap(path)
	if err != nil {
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	if mmap.Size() < int64(HeaderSize) {
		mmap.Close()
		return nil, ErrInvalidHeader
	}

	header, err := DecodeHeader(mmap.Data()[:HeaderSize])
	if err != nil {
		mmap.Close()
		return nil, fmt.Errorf("decode header: %w", err)
	}

	if header.Magic != MagicNumber {
		mmap.Close()
		return nil, ErrMagicMismatch
	}

	if header.Version != Version {
		mmap.Close()
		return nil, ErrVersionMismatch
	}

	expectedSize := int64(HeaderSize) + int64(header.Count)*int64(header.Width)
	if mmap.Size() < expectedSize {
		mmap.Close()
		return nil, fmt.Errorf("file too small: %d < %d", mmap.Size(), expectedSize)
	}

	return &ArrayReader{
		mmap:   mmap,
		header: header,
		data:   mmap.Data()[HeaderSize:],
	}, nil
}

// Close releases the memory mapping.
func (r *ArrayReader) Close() error {
	return r.mmap.Close()
}

// Count returns the number of elements.
func (r *ArrayReader) Count() uint64 {
	return r.header.Count
}

// Width returns the element width in bytes.
func (r *ArrayReader) Width() uint32 {
	return r.header.Width
}

// GetU64 returns the uint64 value at the given index.
func (r *ArrayReader) GetU64(idx uint64) (uint64, error) {
	if idx >= r.header.Count {
		return 0, ErrBoundsCheck
	}
	if r.header.Width != 8 {
		return 0, fmt.Errorf("width mismatch: expected 8, got %d", r.header.Width)
	}
	return binary.LittleEndian.Uint64(r.data[idx*8:]), nil
}

// GetF64 returns the float64 value at the given index.
func (r *ArrayReader) GetF64(idx uint64) (float64, error) {
	bits, err := r.GetU64(idx)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// UnsafeGetU64 returns the value without bounds checking. The caller must
// guarantee idx < Count().
func (r *ArrayReader) UnsafeGetU64(idx uint64) uint64 {
	return binary.LittleEndian.Uint64(r.data[idx*8:])
}

// BlobReader provides read access to a string blob via mmap.
//
// BlobReader is safe for concurrent reads.
type BlobReader struct {
	blob    *MmapFile
	offsets *ArrayReader
}

// OpenBlob opens a string blob with its offsets file.
func OpenBlob(blobPath, offsetsPath string) (*BlobReader, error) {
	blob, err := OpenMmap(blobPath)
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}

	offsets, err := OpenArray(offsetsPath)
	if err != nil {
		blob.Close()
		return nil, fmt.Errorf("open offsets: %w", err)
	}

	return &BlobReader{blob: blob, offsets: offsets}, nil
}

// Close releases resources.
func (r *BlobReader) Close() error {
	err1 := r.blob.Close()
	err2 := r.offsets.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Count returns the number of strings (N, not N+1).
func (r *BlobReader) Count() uint64 {
	if r.offsets.Count() == 0 {
		return 0
	}
	return r.offsets.Count() - 1
}

// Get returns the string at the given index.
func (r *BlobReader) Get(idx uint64) (string, error) {
	if idx >= r.Count() {
		return "", ErrBoundsCheck
	}

	start, err := r.offsets.GetU64(idx)
	if err != nil {
		return "", fmt.Errorf("get start offset: %w", err)
	}

	end, err := r.offsets.GetU64(idx + 1)
	if err != nil {
		return "", fmt.Errorf("get end offset: %w", err)
	}

	if end > uint64(r.blob.Size()) || start > end {
		return "", ErrBoundsCheck
	}

	return string(r.blob.Data()[start:end]), nil
}
