package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eunmann/covstat/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// ProgressTracker tracks completion of a known number of units (shards of a
// sharded aggregation) with ETA calculation. It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	completed atomic.Int64
	startTime time.Time

	mu              sync.Mutex
	recentDurations []time.Duration
	maxRecent       int
}

// NewProgressTracker creates a new progress tracker for total units.
func NewProgressTracker(total int64) *ProgressTracker {
	return &ProgressTracker{
		total:           total,
		startTime:       time.Now(),
		recentDurations: make([]time.Duration, 0, 10),
		maxRecent:       10,
	}
}

// RecordCompletion records that a unit completed after running for d.
func (pt *ProgressTracker) RecordCompletion(d time.Duration) {
	pt.completed.Add(1)

	pt.mu.Lock()
	if len(pt.recentDurations) >= pt.maxRecent {
		pt.recentDurations = pt.recentDurations[1:]
	}
	pt.recentDurations = append(pt.recentDurations, d)
	pt.mu.Unlock()
}

// Completed returns the number of completed units.
func (pt *ProgressTracker) Completed() int64 {
	return pt.completed.Load()
}

// Total returns the total number of units.
func (pt *ProgressTracker) Total() int64 {
	return pt.total
}

// ProgressPct returns the progress percentage (0-100).
func (pt *ProgressTracker) ProgressPct() float64 {
	if pt.total == 0 {
		return 100.0
	}
	return float64(pt.completed.Load()) * 100.0 / float64(pt.total)
}

// ETA estimates the remaining time from the recent completion durations.
func (pt *ProgressTracker) ETA() time.Duration {
	completed := pt.completed.Load()
	if completed == 0 {
		return 0
	}
	remaining := pt.total - completed
	if remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	if len(pt.recentDurations) == 0 {
		return time.Since(pt.startTime) / time.Duration(completed) * time.Duration(remaining)
	}
	var sum time.Duration
	for _, d := range pt.recentDurations {
		sum += d
	}
	return sum / time.Duration(len(pt.recentDurations)) * time.Duration(remaining)
}

// Elapsed returns time since tracking started.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// CompletionEvent builds consistent completion log events.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a new completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int64 adds an int64 field.
func (ce *CompletionEvent) Int64(key string, val int64) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds a byte count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Bytes(key string, bytes int64) *CompletionEvent {
	ce.fields[key] = bytes
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(bytes)
	}
	return ce
}

// Count adds a count with a human-readable companion in pretty mode.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Rate adds the per-second rate of n items over the event duration.
func (ce *CompletionEvent) Rate(key string, n int64) *CompletionEvent {
	if ce.elapsed > 0 {
		ce.fields[key+"_per_sec"] = float64(n) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields[key+"_rate_h"] = humanfmt.Rate(n, ce.elapsed)
		}
	}
	return ce
}

// ProgressFromTracker adds completed/total/progress_pct and ETA fields.
func (ce *CompletionEvent) ProgressFromTracker(pt *ProgressTracker) *CompletionEvent {
	ce.fields["completed"] = pt.Completed()
	ce.fields["total"] = pt.Total()
	ce.fields["progress_pct"] = pt.ProgressPct()
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Log emits the completion event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the completion event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())

	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}

	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}

	e.Msg(msg)
}

// PhaseComplete starts a phase_completed event.
func PhaseComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "phase_completed", phase, elapsed)
}

// ShardComplete starts a shard_completed event.
func ShardComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "shard_completed", phase, elapsed)
}

// FileCreated starts a file_created event.
func FileCreated(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "file_created", phase, elapsed)
}
