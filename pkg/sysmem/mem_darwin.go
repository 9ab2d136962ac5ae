//go:build darwin

package sysmem

import "golang.org/x/sys/unix"

// totalSystemMemory reads hw.memsize, falling back to the 32-bit
// hw.physmem counter that some virtualized hosts still report.
func totalSystemMemory() (uint64, bool) {
	if mem, err := unix.SysctlUint64("hw.memsize"); err == nil && mem > 0 {
		return mem, true
	}
	mem, err := unix.SysctlUint32("hw.physmem")
	if err != nil || mem == 0 {
		return 0, false
	}
	return uint64(mem), true
}
