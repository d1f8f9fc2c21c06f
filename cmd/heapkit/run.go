package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"heapkit/internal/heapdump"
	"heapkit/internal/object"
	"heapkit/internal/scenario"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <scenario.toml>",
	Short: "Execute a heap scenario",
	Long:  `Execute a scripted scenario against the reference-counted heap or the tracing VM and check its expectations`,
	Args:  cobra.ExactArgs(1),
	RunE:  runScenario,
}

func init() {
	runCmd.Flags().String("strategy", "", "override the scenario strategy (refcount|tracing)")
	runCmd.Flags().String("dump", "", "write a heap snapshot to file after the run")
	runCmd.Flags().Bool("quiet", false, "only print the summary")
}

var (
	stepOK       = color.New(color.FgGreen)
	stepExpected = color.New(color.FgYellow)
	stepFailed   = color.New(color.FgRed, color.Bold)
	dimmed       = color.New(color.Faint)
)

func runScenario(cmd *cobra.Command, args []string) error {
	strategyFlag, err := cmd.Flags().GetString("strategy")
	if err != nil {
		return fmt.Errorf("failed to get strategy flag: %w", err)
	}
	dumpPath, err := cmd.Flags().GetString("dump")
	if err != nil {
		return fmt.Errorf("failed to get dump flag: %w", err)
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return fmt.Errorf("failed to get quiet flag: %w", err)
	}

	f, err := scenario.Load(args[0])
	if err != nil {
		return err
	}
	opts := scenario.Options{Defaults: settings.VM}
	if strategyFlag != "" {
		s, ok := object.ParseStrategy(strategyFlag)
		if !ok {
			return fmt.Errorf("invalid --strategy value %q (expected refcount|tracing)", strategyFlag)
		}
		opts.Strategy = s
	}

	runner, err := scenario.NewRunner(f, opts)
	if err != nil {
		return err
	}
	defer runner.Close()

	report, err := runner.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("scenario %s: %w", f.Name, err)
	}

	out := cmd.OutOrStdout()
	if !quiet {
		printSteps(out, report)
	}
	fmt.Fprintln(out, report.Summary())

	if heap := runner.Heap(); heap != nil {
		if leakErr := heap.CheckLeaks(); leakErr != nil {
			stepExpected.Fprintf(out, "warning: %v\n", leakErr)
		}
	}

	if dumpPath != "" {
		snap, err := runner.Snapshot()
		if err != nil {
			return fmt.Errorf("failed to capture snapshot: %w", err)
		}
		if err := heapdump.WriteFile(dumpPath, snap); err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}
		dimmed.Fprintf(out, "snapshot written to %s (%s)\n", dumpPath, snap.Summary())
	}

	if !report.OK() {
		return fmt.Errorf("scenario %s: %s", f.Name, report.Result())
	}
	return nil
}

func printSteps(out io.Writer, report *scenario.Report) {
	collections := 0
	for _, o := range report.Steps {
		switch {
		case o.Failed():
			stepFailed.Fprintf(out, "%4d FAIL ", o.Index)
			fmt.Fprintf(out, "%-16s %v\n", o.Op, o.Err)
		case o.Expected:
			stepExpected.Fprintf(out, "%4d err  ", o.Index)
			fmt.Fprintf(out, "%-16s %v\n", o.Op, o.Err)
		default:
			stepOK.Fprintf(out, "%4d ok   ", o.Index)
			fmt.Fprintf(out, "%-16s %s\n", o.Op, o.Detail)
		}
		if o.Op == scenario.OpCollect && o.Err == nil && collections < len(report.Collections) {
			dimmed.Fprintf(out, "          %s\n", report.Collections[collections].Timings.Summary())
			collections++
		}
	}
}
