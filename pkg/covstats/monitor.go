package covstats

import (
	"context"
	"time"

	"github.com/eunmann/covstat/internal/logctx"
	"github.com/eunmann/covstat/pkg/humanfmt"
	"github.com/eunmann/covstat/pkg/logging"
	"github.com/rs/zerolog"
)

// monitor logs periodic progress for one table and keeps the shared memory
// budget informed of its estimated size.
type monitor struct {
	d        *Driver
	log      zerolog.Logger
	every    int64
	start    time.Time
	reserved uint64
}

func (d *Driver) newMonitor(ctx context.Context, every int64) *monitor {
	return &monitor{
		d:     d,
		log:   logctx.FromContext(ctx),
		every: every,
		start: time.Now(),
	}
}

// checkpoint is called after every observed record; n is the number of
// records this table has seen.
func (m *monitor) checkpoint(n int64, t *Table) {
	if n%cancelCheckInterval == 0 {
		m.trackMemory(t)
	}
	if m.every > 0 && n%m.every == 0 {
		m.trackMemory(t)
		elapsed := time.Since(m.start)
		e := m.log.Info().
			Str("event", "progress").
			Int64("records", n).
			Int("groups", t.Len()).
			Int64("est_bytes", t.EstimatedMemoryUsage())
		if logging.IsPrettyMode() {
			e = e.Str("rate_h", humanfmt.Rate(n, elapsed)).
				Str("est_h", humanfmt.Bytes(t.EstimatedMemoryUsage()))
		}
		e.Msg("aggregation progress")
	}
}

// trackMemory reserves the growth of the table estimate since the last call
// and warns once per driver when the budget is exceeded.
func (m *monitor) trackMemory(t *Table) {
	budget := m.d.cfg.Budget
	if budget == nil {
		return
	}
	est := uint64(t.EstimatedMemoryUsage())
	if est <= m.reserved {
		return
	}
	delta := est - m.reserved
	m.reserved = est
	if !budget.Grow(delta) && m.d.memWarned.CompareAndSwap(false, true) {
		e := m.log.Warn().
			Uint64("budget_bytes", budget.Total()).
			Uint64("in_use_bytes", budget.InUse()).
			Str("budget_source", string(budget.Source())).
			Int("groups", t.Len())
		if logging.IsPrettyMode() {
			e = e.Str("budget_h", humanfmt.Bytes(int64(budget.Total()))).
				Str("in_use_h", humanfmt.Bytes(int64(budget.InUse())))
		}
		e.Msg("aggregation table exceeds memory budget; consider a larger bin size or more memory")
	}
}

// release returns the reservation to the budget.
func (m *monitor) release() {
	if m.d.cfg.Budget != nil && m.reserved > 0 {
		m.d.cfg.Budget.Release(m.reserved)
		m.reserved = 0
	}
}
