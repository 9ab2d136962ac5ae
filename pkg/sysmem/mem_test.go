package sysmem

import (
	"runtime"
	"testing"
)

func TestTotal(t *testing.T) {
	result := Total()

	if result.TotalBytes == 0 {
		t.Fatal("Total() returned 0 bytes")
	}

	switch runtime.GOOS {
	case "linux", "darwin":
		if !result.Reliable {
			t.Logf("memory detection not reliable on %s", runtime.GOOS)
		}
	default:
		if result.Reliable {
			t.Errorf("expected Reliable=false on %s", runtime.GOOS)
		}
		if result.TotalBytes != DefaultMemoryBytes {
			t.Errorf("expected fallback %d on %s, got %d", DefaultMemoryBytes, runtime.GOOS, result.TotalBytes)
		}
	}
}

func TestFallbackWhenUnreliable(t *testing.T) {
	result := Total()
	if !result.Reliable && result.TotalBytes != DefaultMemoryBytes {
		t.Errorf("unreliable result should use DefaultMemoryBytes, got %d", result.TotalBytes)
	}
}
