// Package memdiag logs heap statistics during long aggregation runs and
// compares them with the table estimates reserved in the memory budget.
//
// Enable with --mem-debug (or log.mem_debug); --pprof ADDR also serves
// net/http/pprof.
package memdiag

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"

	"github.com/eunmann/covstat/pkg/humanfmt"
	"github.com/eunmann/covstat/pkg/membudget"
	"github.com/rs/zerolog"
)

// DefaultLogInterval is the periodic logging interval.
const DefaultLogInterval = 5 * time.Second

// Config holds configuration for memory diagnostics.
type Config struct {
	// Enabled controls whether memory diagnostics are active.
	Enabled bool

	// PprofAddr, when set, is the listen address of a pprof server.
	PprofAddr string

	// LogInterval is the interval for periodic memory logging.
	LogInterval time.Duration
}

// Stats holds memory statistics from runtime.
type Stats struct {
	HeapAlloc     uint64
	HeapSys       uint64
	HeapInuse     uint64
	Sys           uint64
	NumGC         uint32
	GCCPUFraction float64
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:     m.HeapAlloc,
		HeapSys:       m.HeapSys,
		HeapInuse:     m.HeapInuse,
		Sys:           m.Sys,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
	}
}

// Tracker logs memory usage periodically and at phase changes.
// All methods are no-ops when the tracker is disabled.
type Tracker struct {
	config Config
	log    zerolog.Logger
	budget *membudget.Budget

	stopCh  chan struct{}
	doneCh  chan struct{}
	started atomic.Bool
	server  *http.Server

	mu       sync.Mutex
	phase    string
	peakHeap uint64
}

// NewTracker creates a tracker that logs to log. budget may be nil.
func NewTracker(config Config, log zerolog.Logger, budget *membudget.Budget) *Tracker {
	if config.LogInterval <= 0 {
		config.LogInterval = DefaultLogInterval
	}
	return &Tracker{
		config: config,
		log:    log,
		budget: budget,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		phase:  "init",
	}
}

// Start begins periodic memory logging if enabled.
func (t *Tracker) Start() {
	if !t.config.Enabled || !t.started.CompareAndSwap(false, true) {
		return
	}
	t.log.Info().Dur("interval", t.config.LogInterval).Msg("memory diagnostics enabled")

	if t.config.PprofAddr != "" {
		t.server = &http.Server{Addr: t.config.PprofAddr, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			t.log.Info().Str("addr", t.config.PprofAddr).Msg("starting pprof server")
			if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	go t.logLoop()
}

// Stop stops periodic logging and the pprof server.
func (t *Tracker) Stop() {
	if !t.started.Load() {
		return
	}
	close(t.stopCh)
	<-t.doneCh
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		t.server.Shutdown(ctx)
	}
}

// SetPhase sets the current phase and logs a snapshot.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
	t.LogNow("phase_change")
}

// LogNow logs current memory stats immediately, with the budget
// reservation when a budget is attached.
func (t *Tracker) LogNow(reason string) {
	if !t.config.Enabled {
		return
	}

	stats := Read()
	t.mu.Lock()
	phase := t.phase
	if stats.HeapAlloc > t.peakHeap {
		t.peakHeap = stats.HeapAlloc
	}
	peakHeap := t.peakHeap
	t.mu.Unlock()

	e := t.log.Debug().
		Str("reason", reason).
		Str("phase", phase).
		Uint64("heap_alloc_bytes", stats.HeapAlloc).
		Uint64("heap_sys_bytes", stats.HeapSys).
		Uint64("peak_heap_bytes", peakHeap).
		Uint32("num_gc", stats.NumGC).
		Float64("gc_cpu_pct", stats.GCCPUFraction*100).
		Str("heap_alloc_h", humanfmt.Bytes(int64(stats.HeapAlloc))).
		Str("peak_heap_h", humanfmt.Bytes(int64(peakHeap)))

	if t.budget == nil {
		e.Msg("memory stats")
		return
	}

	inUse := t.budget.InUse()
	var ratio float64
	if inUse > 0 {
		ratio = float64(stats.HeapAlloc) / float64(inUse)
	}
	e.Uint64("budget_in_use_bytes", inUse).
		Uint64("budget_total_bytes", t.budget.Total()).
		Float64("heap_vs_estimate_ratio", ratio).
		Msg("memory stats")

	// Table estimates undercount when the heap is far larger.
	if ratio > 2.0 && inUse > 100*1024*1024 {
		t.log.Warn().
			Str("heap_alloc_h", humanfmt.Bytes(int64(stats.HeapAlloc))).
			Str("estimate_h", humanfmt.Bytes(int64(inUse))).
			Float64("ratio", ratio).
			Msg("heap usage significantly exceeds table estimates")
	}
}

// PeakHeap returns the peak heap allocation seen.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

func (t *Tracker) logLoop() {
	defer close(t.doneCh)

	ticker := time.NewTicker(t.config.LogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			t.LogNow("shutdown")
			return
		case <-ticker.C:
			t.LogNow("periodic")
		}
	}
}
