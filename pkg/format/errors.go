package format

import "errors"

// Errors returned when opening or reading stats index files. Callers treat
// all of them as a corrupt or foreign index and suggest a rebuild.
var (
	// ErrInvalidHeader indicates a file too short to hold a header.
	ErrInvalidHeader = errors.New("stats index: truncated file header")
	// ErrMagicMismatch indicates a file that is not a covstat index column.
	ErrMagicMismatch = errors.New("stats index: not a covstat file (bad magic)")
	// ErrVersionMismatch indicates a file or manifest written by an
	// incompatible covstat release.
	ErrVersionMismatch = errors.New("stats index: unsupported format version")
	// ErrBoundsCheck indicates a group slot past the end of a column.
	ErrBoundsCheck = errors.New("stats index: slot out of range")
)
