package covstats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/eunmann/covstat/internal/logctx"
	"github.com/eunmann/covstat/pkg/depth"
	"github.com/eunmann/covstat/pkg/logging"
	"github.com/eunmann/covstat/pkg/membudget"
)

// State is the lifecycle state of a Driver.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateFinalizing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

const (
	// DefaultBatchSize is the number of records sent to a shard at once.
	DefaultBatchSize = 1024

	// cancelCheckInterval is how many records are processed between
	// context checks.
	cancelCheckInterval = 4096
)

// DriverConfig holds the configuration for a Driver.
type DriverConfig struct {
	// Strategy assigns records to groups. Required.
	Strategy Strategy

	// Shards is the number of aggregation workers. 0 or 1 runs sequentially.
	Shards int

	// ProgressEvery logs a progress line every N records. 0 disables it.
	ProgressEvery int64

	// BatchSize is the number of records per shard batch (sharded runs only).
	BatchSize int

	// Budget, when set, is compared against the estimated table size.
	Budget *membudget.Budget
}

// Driver runs one aggregation pass over a depth.Reader.
// A Driver is single-use; a second Run returns ErrDriverUsed.
type Driver struct {
	cfg   DriverConfig
	state State

	table  *Table
	shards []*Table

	records   atomic.Int64
	memWarned atomic.Bool
}

// NewDriver validates cfg and returns an idle driver.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("%w: grouping strategy is required", ErrInvalidConfiguration)
	}
	if cfg.Shards < 0 {
		return nil, fmt.Errorf("%w: shards must be >= 1, got %d", ErrInvalidConfiguration, cfg.Shards)
	}
	if cfg.Shards == 0 {
		cfg.Shards = 1
	}
	if cfg.ProgressEvery < 0 {
		return nil, fmt.Errorf("%w: progress interval must be >= 0, got %d", ErrInvalidConfiguration, cfg.ProgressEvery)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Driver{cfg: cfg}, nil
}

// Run consumes r to EOF and returns the finalized groups in first-seen order.
// The reader is not closed. On any error the driver moves to StateFailed and
// no result is returned.
func (d *Driver) Run(ctx context.Context, r depth.Reader) ([]GroupStats, error) {
	if d.state != StateIdle {
		return nil, ErrDriverUsed
	}
	d.state = StateStreaming

	log := logctx.FromContext(ctx).With().
		Str("strategy", d.cfg.Strategy.Name()).
		Int("shards", d.cfg.Shards).
		Logger()
	ctx = logctx.WithLogger(ctx, log)
	start := time.Now()

	var (
		out []GroupStats
		err error
	)
	if d.cfg.Shards > 1 {
		out, err = d.runSharded(ctx, r)
	} else {
		out, err = d.runSequential(ctx, r)
	}
	if err != nil {
		d.state = StateFailed
		log.Error().Err(err).
			Int64("records", d.records.Load()).
			Msg("aggregation failed")
		return nil, err
	}
	d.state = StateDone

	elapsed := time.Since(start)
	logging.PhaseComplete(log, "aggregate", elapsed).
		Count("records", d.records.Load()).
		Count("groups", int64(len(out))).
		Rate("records", d.records.Load()).
		Log("aggregation complete")

	return out, nil
}

func (d *Driver) runSequential(ctx context.Context, r depth.Reader) ([]GroupStats, error) {
	d.table = NewTable(d.cfg.Strategy, 0)
	mon := d.newMonitor(ctx, d.cfg.ProgressEvery)
	defer mon.release()

	for n := int64(0); ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("aggregation canceled: %w", err)
			}
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if err := d.table.Observe(rec); err != nil {
			return nil, err
		}
		d.records.Add(1)
		mon.checkpoint(n+1, d.table)
	}

	d.state = StateFinalizing
	return d.table.Finalize()
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return d.state
}

// Records returns the number of records consumed so far.
func (d *Driver) Records() int64 {
	return d.records.Load()
}

// Table returns the table of a sequential run, including after a failure.
// It is nil before Run and for sharded runs.
func (d *Driver) Table() *Table {
	return d.table
}

// ShardTables returns the per-shard tables of a sharded run.
func (d *Driver) ShardTables() []*Table {
	return d.shards
}
