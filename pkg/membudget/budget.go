// Package membudget resolves the memory budget for aggregation tables.
//
// Tables keep one accumulator per group for the whole pass, so the budget is
// advisory: the stream driver compares table estimates against it and warns
// when a run is likely to exhaust memory (typically a tiny bin size on a
// large genome).
package membudget

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/eunmann/covstat/pkg/sysmem"
)

// DefaultBudgetBytes is used when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 8 * 1024 * 1024 * 1024

// BudgetSource indicates how the memory budget was determined.
type BudgetSource string

const (
	// BudgetSourceAuto50Pct indicates 50% of detected RAM.
	BudgetSourceAuto50Pct BudgetSource = "auto-50pct"
	// BudgetSourceDefault indicates the fallback default.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceConfig indicates an explicit value from flags, config file or env.
	BudgetSourceConfig BudgetSource = "config"
)

// Budget tracks reserved bytes against a total.
// Budget is safe for concurrent use; shard workers share one.
type Budget struct {
	total  uint64
	inUse  atomic.Uint64
	source BudgetSource
}

// New creates a Budget of total bytes.
func New(total uint64, source BudgetSource) *Budget {
	return &Budget{total: total, source: source}
}

// NewFromSystemRAM creates a Budget set to 50% of system RAM, or
// DefaultBudgetBytes when RAM cannot be detected.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	if !result.Reliable {
		return New(DefaultBudgetBytes, BudgetSourceDefault)
	}
	return New(result.TotalBytes/2, BudgetSourceAuto50Pct)
}

// Resolve returns a Budget from a human-readable size, falling back to
// NewFromSystemRAM when size is empty.
func Resolve(size string) (*Budget, error) {
	if size == "" {
		return NewFromSystemRAM(), nil
	}
	total, err := ParseHumanSize(size)
	if err != nil {
		return nil, fmt.Errorf("invalid memory budget %q: %w", size, err)
	}
	if total == 0 {
		return nil, errors.New("memory budget must be positive")
	}
	return New(total, BudgetSourceConfig), nil
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource {
	return b.source
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	return b.inUse.Load()
}

// Grow reserves n more bytes and reports whether usage is still within the
// budget. Reservations always succeed; the result is a warning signal.
func (b *Budget) Grow(n uint64) bool {
	return b.inUse.Add(n) <= b.total
}

// Release returns n bytes, never dropping below zero.
func (b *Budget) Release(n uint64) {
	for {
		current := b.inUse.Load()
		next := uint64(0)
		if n < current {
			next = current - n
		}
		if b.inUse.CompareAndSwap(current, next) {
			return
		}
	}
}

// ParseHumanSize parses a size string such as "4GiB", "512MB" or "1024".
// Supported suffixes: B, KB, KiB/K, MB, MiB/M, GB, GiB/G, TB, TiB/T.
func ParseHumanSize(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty size string")
	}

	numEnd := 0
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			break
		}
		numEnd = i + 1
	}

	numStr, suffix := s[:numEnd], s[numEnd:]
	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %s", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1
	case "KB":
		multiplier = 1e3
	case "KiB", "K":
		multiplier = 1 << 10
	case "MB":
		multiplier = 1e6
	case "MiB", "M":
		multiplier = 1 << 20
	case "GB":
		multiplier = 1e9
	case "GiB", "G":
		multiplier = 1 << 30
	case "TB":
		multiplier = 1e12
	case "TiB", "T":
		multiplier = 1 << 40
	default:
		return 0, fmt.Errorf("unknown size suffix: %s", suffix)
	}

	return uint64(num * multiplier), nil
}
