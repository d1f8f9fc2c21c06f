package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"heapkit/internal/stress"
	"heapkit/internal/trace"
)

var stressCmd = &cobra.Command{
	Use:   "stress [flags]",
	Short: "Run randomized workloads and check heap invariants",
	Long: `Run randomized allocation, ownership and collection workloads on many
independent heaps in parallel, checking reference counts and reachability as they go`,
	Args: cobra.NoArgs,
	RunE: runStress,
}

func init() {
	stressCmd.Flags().Int("workers", 0, "parallel workers (default from heapkit.toml)")
	stressCmd.Flags().Int("rounds", 0, "rounds to run")
	stressCmd.Flags().Int("ops", 0, "random operations per round")
	stressCmd.Flags().Uint64("seed", 0, "random seed")
	stressCmd.Flags().String("strategy", "", "refcount|tracing|both")
	stressCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
}

func stressOptions(cmd *cobra.Command) (stress.Options, error) {
	cfg := settings.Stress
	opts := stress.Options{
		Workers:  cfg.Workers,
		Rounds:   cfg.Rounds,
		Ops:      cfg.Ops,
		Seed:     cfg.Seed,
		Strategy: cfg.Strategy,
	}
	flags := cmd.Flags()
	var err error
	if flags.Changed("workers") {
		if opts.Workers, err = flags.GetInt("workers"); err != nil {
			return opts, fmt.Errorf("failed to get workers flag: %w", err)
		}
	}
	if flags.Changed("rounds") {
		if opts.Rounds, err = flags.GetInt("rounds"); err != nil {
			return opts, fmt.Errorf("failed to get rounds flag: %w", err)
		}
	}
	if flags.Changed("ops") {
		if opts.Ops, err = flags.GetInt("ops"); err != nil {
			return opts, fmt.Errorf("failed to get ops flag: %w", err)
		}
	}
	if flags.Changed("seed") {
		if opts.Seed, err = flags.GetUint64("seed"); err != nil {
			return opts, fmt.Errorf("failed to get seed flag: %w", err)
		}
	}
	if flags.Changed("strategy") {
		if opts.Strategy, err = flags.GetString("strategy"); err != nil {
			return opts, fmt.Errorf("failed to get strategy flag: %w", err)
		}
	}
	if opts.Workers < 1 || opts.Rounds < 1 || opts.Ops < 1 {
		return opts, fmt.Errorf("workers, rounds and ops must be >= 1")
	}
	if _, err := stress.Strategies(opts.Strategy); err != nil {
		return opts, err
	}
	return opts, nil
}

func runStress(cmd *cobra.Command, _ []string) error {
	opts, err := stressOptions(cmd)
	if err != nil {
		return err
	}
	uiFlag, err := cmd.Flags().GetString("ui")
	if err != nil {
		return fmt.Errorf("failed to get ui flag: %w", err)
	}
	mode, err := readUIMode(uiFlag)
	if err != nil {
		return err
	}
	opts.Tracer = trace.FromContext(cmd.Context())

	out := cmd.OutOrStdout()
	var result *stress.Result
	if shouldUseTUI(mode) {
		title := fmt.Sprintf("stress %s, seed %d", opts.Strategy, opts.Seed)
		result, err = runStressWithUI(cmd.Context(), title, opts)
	} else {
		fmt.Fprintf(out, "stress: %d rounds of %d ops on %d workers (%s, seed %d)\n",
			opts.Rounds, opts.Ops, opts.Workers, opts.Strategy, opts.Seed)
		result, err = stress.Run(cmd.Context(), opts)
	}
	if result != nil {
		printStressResult(out, result)
	}
	if err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	return nil
}

func printStressResult(out io.Writer, r *stress.Result) {
	row := func(name string, t stress.Tally) {
		if t.Rounds == 0 {
			return
		}
		fmt.Fprintf(out, "  %-9s rounds=%d ops=%d allocs=%d frees=%d collections=%d swept=%d checks=%d rejected=%d\n",
			name, t.Rounds, t.Ops, t.Allocs, t.Frees, t.Collections, t.Swept, t.Checks, t.Rejected)
	}
	row("refcount", r.RefCount)
	row("tracing", r.Tracing)
	stepOK.Fprintln(out, r.Summary())
}
