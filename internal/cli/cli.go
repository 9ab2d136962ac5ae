// Package cli implements the command-line interface for covstat.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/eunmann/covstat/internal/logctx"
	"github.com/eunmann/covstat/pkg/config"
	"github.com/eunmann/covstat/pkg/covstats"
	"github.com/eunmann/covstat/pkg/depth"
	"github.com/eunmann/covstat/pkg/logging"
	"github.com/eunmann/covstat/pkg/membudget"
	"github.com/eunmann/covstat/pkg/memdiag"
	"github.com/eunmann/covstat/pkg/s3io"
	"github.com/eunmann/covstat/pkg/sink"
	"github.com/eunmann/covstat/pkg/statsindex"
)

const usage = `usage: covstat <command> [options]
commands:
  chrom [flags] <depth-file>               per-chromosome coverage statistics
  bin --bin-size N [flags] <depth-file>    per-window coverage statistics
  query --index DIR --chrom C [--pos P]    look up a group in a stats index`

// objectStore is the S3 surface used for s3:// inputs and outputs.
type objectStore interface {
	depth.ObjectStreamer
	sink.Uploader
}

// newObjectStore is replaced in tests.
var newObjectStore = func(ctx context.Context) (objectStore, error) {
	return s3io.NewClient(ctx)
}

// Run executes the CLI with the given arguments. Results written to stdout
// go to the stdout writer; logs go to stderr.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}

	switch args[0] {
	case covstats.ModeChrom, covstats.ModeBin:
		return runAggregate(ctx, args[0], args[1:], stdout)
	case "query":
		return runQuery(args[1:], stdout)
	default:
		return fmt.Errorf("unknown command: %s\n%s", args[0], usage)
	}
}

// flagKeys maps command-line flags to config keys.
var flagKeys = map[string]string{
	"out":            "output.dest",
	"format":         "output.format",
	"index":          "output.index",
	"bin-size":       "bin_size",
	"shards":         "engine.shards",
	"batch-size":     "engine.batch_size",
	"progress-every": "engine.progress_every",
	"mem-budget":     "engine.mem_budget",
	"debug":          "log.debug",
	"human":          "log.human",
	"mem-debug":      "log.mem_debug",
	"pprof":          "log.pprof_addr",
}

func runAggregate(ctx context.Context, mode string, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file")
	fs.String("out", "-", "output destination: -, a file path or s3://bucket/key")
	fs.String("format", sink.FormatTSV, "output format: tsv or parquet")
	fs.String("index", "", "also write a stats index to this directory")
	fs.Int("shards", 1, "number of aggregation workers")
	fs.Int("batch-size", covstats.DefaultBatchSize, "records per shard batch")
	fs.Int64("progress-every", 0, "log progress every N records (0 = off)")
	fs.String("mem-budget", "", "memory budget for aggregation tables, e.g. 4GiB (default: 50% of RAM)")
	fs.Bool("debug", false, "enable debug logging")
	fs.Bool("human", false, "human-readable console logs")
	fs.Bool("mem-debug", false, "log heap statistics periodically (implies --debug)")
	fs.String("pprof", "", "serve net/http/pprof on this address, e.g. localhost:6060")
	if mode == covstats.ModeBin {
		fs.Int64("bin-size", 0, "window width in positions (required)")
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("expected one depth file, got %d", fs.NArg())
	}

	overrides := map[string]interface{}{"mode": mode}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
	})
	if fs.NArg() == 1 {
		overrides["input"] = fs.Arg(0)
	}

	cfg, err := config.Load(*configPath, overrides)
	if err != nil {
		if mode == covstats.ModeBin && errors.Is(err, covstats.ErrInvalidConfiguration) && strings.Contains(err.Error(), "bin_size") {
			return fmt.Errorf("--bin-size: %w", err)
		}
		return err
	}

	logging.Init(cfg.Log.Debug || cfg.Log.MemDebug, cfg.Log.Human)
	ctx = logctx.WithLogger(ctx, *logging.L())
	ctx, _ = logctx.WithRunID(ctx)
	ctx = logctx.WithStr(ctx, "mode", cfg.Mode)

	return aggregate(ctx, cfg, stdout)
}

// aggregate runs one aggregation pass and writes its outputs. Nothing is
// written unless the pass succeeds.
func aggregate(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	log := logctx.FromContext(ctx)

	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}
	budget, err := determineMemoryBudget(cfg.Engine.MemBudget)
	if err != nil {
		return err
	}

	tracker := memdiag.NewTracker(memdiag.Config{
		Enabled:   cfg.Log.MemDebug,
		PprofAddr: cfg.Log.PprofAddr,
	}, log, budget)
	tracker.Start()
	defer tracker.Stop()

	var store objectStore
	if s3io.IsS3URI(cfg.Input) || s3io.IsS3URI(cfg.Output.Dest) {
		store, err = newObjectStore(ctx)
		if err != nil {
			return fmt.Errorf("create S3 client: %w", err)
		}
	}

	reader, err := depth.Open(ctx, cfg.Input, store)
	if err != nil {
		return err
	}
	defer reader.Close()

	log.Info().
		Str("input", cfg.Input).
		Int64("bin_size", cfg.BinSize).
		Int("shards", cfg.Engine.Shards).
		Uint64("mem_budget_bytes", budget.Total()).
		Str("mem_budget_source", string(budget.Source())).
		Msg("starting aggregation")

	tracker.SetPhase("aggregate")
	driver, err := covstats.NewDriver(covstats.DriverConfig{
		Strategy:      strategy,
		Shards:        cfg.Engine.Shards,
		ProgressEvery: cfg.Engine.ProgressEvery,
		BatchSize:     cfg.Engine.BatchSize,
		Budget:        budget,
	})
	if err != nil {
		return err
	}
	groups, err := driver.Run(ctx, reader)
	if err != nil {
		return err
	}

	tracker.SetPhase("write")
	opts := sink.Options{
		Dest:     cfg.Output.Dest,
		Format:   cfg.Output.Format,
		Stdout:   stdout,
		Uploader: store,
	}
	if err := sink.Write(ctx, opts, groups); err != nil {
		return err
	}

	if cfg.Output.Index != "" {
		tracker.SetPhase("index")
		meta := statsindex.Meta{Mode: cfg.Mode, BinSize: cfg.BinSize, RunID: logctx.RunID(ctx)}
		if err := statsindex.Build(cfg.Output.Index, groups, meta); err != nil {
			return fmt.Errorf("build stats index: %w", err)
		}
		log.Info().Str("index", cfg.Output.Index).Int("groups", len(groups)).Msg("stats index written")
	}
	return nil
}

// determineMemoryBudget resolves the configured budget, falling back to
// half of system RAM.
func determineMemoryBudget(size string) (*membudget.Budget, error) {
	budget, err := membudget.Resolve(size)
	if err != nil {
		return nil, fmt.Errorf("--mem-budget: %w", err)
	}
	return budget, nil
}

func runQuery(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	indexDir := fs.String("index", "", "stats index directory")
	chrom := fs.String("chrom", "", "chromosome name")
	pos := fs.Int64("pos", -1, "position (required for windowed indexes)")
	verify := fs.Bool("verify", false, "verify index checksums before the lookup")
	debug := fs.Bool("debug", false, "enable debug logging")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *indexDir == "" {
		return errors.New("--index is required")
	}
	if *chrom == "" {
		return errors.New("--chrom is required")
	}

	logging.Init(*debug, false)
	log := logging.WithPhase("query")

	ix, err := statsindex.Open(*indexDir)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer ix.Close()

	m := ix.Manifest()
	log.Debug().
		Str("index", *indexDir).
		Str("mode", m.Mode).
		Int64("bin_size", m.BinSize).
		Uint64("groups", m.Groups).
		Str("run_id", m.RunID).
		Msg("index opened")

	if *verify {
		if err := ix.Verify(); err != nil {
			return err
		}
	}

	var (
		g     covstats.GroupStats
		found bool
	)
	if *pos >= 0 {
		g, found, err = ix.LookupPosition(*chrom, *pos)
	} else {
		g, found, err = ix.LookupChrom(*chrom)
	}
	if errors.Is(err, statsindex.ErrPositionRequired) {
		return fmt.Errorf("--pos is required: index was built with %s mode, bin size %d", m.Mode, m.BinSize)
	}
	if err != nil {
		return err
	}
	if !found {
		if *pos >= 0 {
			return fmt.Errorf("no group for %s:%d", *chrom, *pos)
		}
		return fmt.Errorf("no group for %s", *chrom)
	}

	line := sink.AppendTSVRow(nil, g)
	line = append(line, '\n')
	_, err = stdout.Write(line)
	return err
}
