// Package sysmem detects total physical memory, used to derive the default
// memory budget for aggregation tables.
package sysmem

// DefaultMemoryBytes (4 GiB) is assumed when detection is unsupported or fails.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	TotalBytes uint64

	// Reliable is false when TotalBytes is the DefaultMemoryBytes fallback.
	Reliable bool
}

// Total returns the total physical memory of the host.
func Total() Result {
	bytes, ok := totalSystemMemory()
	if !ok || bytes == 0 {
		return Result{TotalBytes: DefaultMemoryBytes}
	}
	return Result{TotalBytes: bytes, Reliable: true}
}
