package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"text/tabwriter"

	"ammsim/internal/config"
	"ammsim/internal/core"
	"ammsim/internal/ingestion"
	"ammsim/internal/npc"
	"ammsim/internal/observability"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type simulateOptions struct {
	ticks   int
	rngSeed uint64
	format  string
}

func newSimulateCmd(cfgFile *string) *cobra.Command {
	var opts simulateOptions

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run NPC rounds against an in-memory market and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			return simulate(cmd.Context(), cmd.OutOrStdout(), cfg, opts)
		},
	}

	fs := cmd.Flags()
	addCommonFlags(fs)
	addNPCFlags(fs)
	fs.IntVar(&opts.ticks, "ticks", 100, "NPC rounds to run")
	fs.Uint64Var(&opts.rngSeed, "rng-seed", 0, "random seed; 0 seeds from the clock")
	fs.StringVar(&opts.format, "format", "text", "output format (text, json)")
	return cmd
}

// simulate drives the NPC trader against a fresh in-memory engine. The
// rounds run synchronously, so a fixed rng seed reproduces the same market.
func simulate(ctx context.Context, w io.Writer, cfg config.Config, opts simulateOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	level := observability.ParseLogLevel(cfg.LogLevel)
	engineLogger := observability.NewLoggerWithLevel("engine", level)
	engine, err := core.NewEngine(cfg.Seed, core.EngineConfig{
		IdempotencyCapacity: cfg.IdempotencyLRUCapacity,
		Logger:              &engineLogger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	sequencer := core.NewSequencer(engine, cfg.SequencerQueue, observability.NewLoggerWithLevel("sequencer", level))
	go sequencer.Run(ctx)
	intents := ingestion.NewIntentService(sequencer, nil, observability.NewLoggerWithLevel("ingestion", level))

	var rng *rand.Rand
	if opts.rngSeed != 0 {
		rng = rand.New(rand.NewPCG(opts.rngSeed, opts.rngSeed>>1))
	}
	sim := npc.NewSimulator(sequencer, intents, cfg.NPC, rng, observability.NewLoggerWithLevel("npc", level))

	trades := 0
	if cfg.NPC.Enabled {
		for i := 0; i < opts.ticks; i++ {
			res, err := sim.Tick(ctx)
			if err != nil {
				return fmt.Errorf("round %d: %w", i+1, err)
			}
			if res != nil {
				trades++
			}
		}
	}

	snap, err := sequencer.Snapshot(ctx)
	if err != nil {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	return writeSummary(w, snap, opts.ticks, trades)
}

func writeSummary(w io.Writer, snap *core.Snapshot, ticks, trades int) error {
	fmt.Fprintf(w, "rounds=%d trades=%d sequence=%d state_hash=%s\n\n", ticks, trades, snap.Sequence, snap.StateHash)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "POOL\tRESERVE A\tRESERVE B\tPRICE B/A")
	for _, p := range snap.Pools {
		price := 0.0
		if p.ReserveA > 0 {
			price = p.ReserveB / p.ReserveA
		}
		fmt.Fprintf(tw, "%s\t%.4f %s\t%.4f %s\t%.6f\n", p.ID, p.ReserveA, p.TokenA, p.ReserveB, p.TokenB, price)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "TOKEN\tBALANCE")
	for _, id := range snap.SortedInventory() {
		fmt.Fprintf(tw, "%s\t%.4f\n", id, snap.Inventory[id])
	}
	return tw.Flush()
}
