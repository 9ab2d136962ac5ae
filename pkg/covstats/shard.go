package covstats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/eunmann/covstat/internal/logctx"
	"github.com/eunmann/covstat/pkg/depth"
	"github.com/eunmann/covstat/pkg/logging"
	"golang.org/x/sync/errgroup"
)

// shardBatch is a run of records for one shard. The records' Depths share
// a single backing slab owned by the batch.
type shardBatch struct {
	records []depth.Record
}

// runSharded aggregates with one worker per shard. Every chromosome is pinned
// to a single shard, so no group is ever split across workers.
func (d *Driver) runSharded(ctx context.Context, r depth.Reader) ([]GroupStats, error) {
	n := d.cfg.Shards
	d.shards = make([]*Table, n)
	chans := make([]chan shardBatch, n)
	for i := range chans {
		chans[i] = make(chan shardBatch, 4)
		d.shards[i] = NewTable(d.cfg.Strategy, 0)
	}

	// Written only by the dispatcher, read after Wait.
	chromIndex := make(map[string]int)

	tracker := logging.NewProgressTracker(int64(n))
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < n; i++ {
		g.Go(func() error {
			return d.runShard(logctx.WithShard(gctx, i), d.shards[i], chans[i], tracker)
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range chans {
				close(ch)
			}
		}()
		return d.dispatch(gctx, r, chans, chromIndex)
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("aggregation canceled: %w", ctxErr)
		}
		return nil, err
	}

	d.state = StateFinalizing
	return mergeShards(d.shards, chromIndex)
}

// dispatch reads r, validates the sample count and routes cloned records to
// the shard owning their chromosome.
func (d *Driver) dispatch(ctx context.Context, r depth.Reader, chans []chan shardBatch, chromIndex map[string]int) error {
	log := logctx.FromContext(ctx)
	shards := len(chans)
	batchSize := d.cfg.BatchSize
	start := time.Now()

	samples := 0
	pending := make([]shardBatch, shards)
	slabs := make([][]int64, shards)

	send := func(shard int) error {
		if len(pending[shard].records) == 0 {
			return nil
		}
		select {
		case chans[shard] <- pending[shard]:
		case <-ctx.Done():
			return ctx.Err()
		}
		pending[shard] = shardBatch{}
		slabs[shard] = nil
		return nil
	}

	for n := int64(0); ; n++ {
		if n%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}

		if samples == 0 {
			if len(rec.Depths) == 0 {
				return fmt.Errorf("%w at %s:%d: record has no depth values", ErrSampleCountMismatch, rec.Chrom, rec.Pos)
			}
			samples = len(rec.Depths)
		}
		if len(rec.Depths) != samples {
			return &SampleCountError{Chrom: rec.Chrom, Pos: rec.Pos, Want: samples, Got: len(rec.Depths)}
		}

		idx, ok := chromIndex[rec.Chrom]
		if !ok {
			idx = len(chromIndex)
			chromIndex[rec.Chrom] = idx
		}
		shard := idx % shards

		if slabs[shard] == nil {
			slabs[shard] = make([]int64, 0, batchSize*samples)
			pending[shard].records = make([]depth.Record, 0, batchSize)
		}
		off := len(slabs[shard])
		slabs[shard] = append(slabs[shard], rec.Depths...)
		pending[shard].records = append(pending[shard].records, depth.Record{
			Chrom:  rec.Chrom,
			Pos:    rec.Pos,
			Depths: slabs[shard][off : off+samples : off+samples],
		})

		d.records.Add(1)
		if len(pending[shard].records) == batchSize {
			if err := send(shard); err != nil {
				return err
			}
		}

		if d.cfg.ProgressEvery > 0 && (n+1)%d.cfg.ProgressEvery == 0 {
			log.Info().
				Str("event", "progress").
				Int64("records", n+1).
				Int("chromosomes", len(chromIndex)).
				Dur("elapsed", time.Since(start)).
				Msg("dispatch progress")
		}
	}

	for shard := range pending {
		if err := send(shard); err != nil {
			return err
		}
	}
	return nil
}

// runShard folds every batch received on in into t.
func (d *Driver) runShard(ctx context.Context, t *Table, in <-chan shardBatch, tracker *logging.ProgressTracker) error {
	log := logctx.FromContext(ctx)
	mon := d.newMonitor(ctx, 0)
	defer mon.release()
	start := time.Now()

	var n int64
	for batch := range in {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, rec := range batch.records {
			if err := t.Observe(rec); err != nil {
				return err
			}
			n++
			mon.checkpoint(n, t)
		}
	}
	// Channels are also closed when the dispatcher fails.
	if err := ctx.Err(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	tracker.RecordCompletion(elapsed)
	logging.ShardComplete(log, "aggregate", elapsed).
		Count("records", n).
		Count("groups", int64(t.Len())).
		ProgressFromTracker(tracker).
		LogDebug("shard complete")
	return nil
}

// mergeShards finalizes every shard and orders the groups by the first-seen
// index of their chromosome, keeping each shard's own group order within a
// chromosome.
func mergeShards(shards []*Table, chromIndex map[string]int) ([]GroupStats, error) {
	total := 0
	for _, t := range shards {
		total += t.Len()
	}
	out := make([]GroupStats, 0, total)
	for _, t := range shards {
		stats, err := t.Finalize()
		if err != nil {
			return nil, err
		}
		out = append(out, stats...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return chromIndex[out[i].Key.Chrom] < chromIndex[out[j].Key.Chrom]
	})
	return out, nil
}
