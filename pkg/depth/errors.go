package depth

import (
	"errors"
	"fmt"
)

// ErrMalformedRecord indicates a row that cannot be parsed into
// chromosome, position and depth fields.
var ErrMalformedRecord = errors.New("malformed record")

// ParseError describes a malformed row. It wraps ErrMalformedRecord.
type ParseError struct {
	Line   int    // 1-based line number in the input
	Raw    string // row content, tab joined
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s: %s (row %q)", e.Line, ErrMalformedRecord, e.Reason, e.Raw)
}

func (e *ParseError) Unwrap() error {
	return ErrMalformedRecord
}
