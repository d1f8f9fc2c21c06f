package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"heapkit/internal/config"
	"heapkit/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "heapkit",
	Short: "Reference counting and mark-sweep heaps with scenario and stress tooling",
	Long: `heapkit runs scripted scenarios and randomized stress workloads against a
reference-counted heap and a mark-and-sweep VM, and inspects heap snapshots.`,
	PersistentPreRunE: prepare,
	SilenceUsage:      true,
}

// settings is the configuration resolved by prepare for the running command.
var settings = config.Default()

// cleanups run in reverse order after the command returns, even on error.
var cleanups []func()

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stressCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "path to heapkit.toml (default: search upward from the working directory)")
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.String("trace", "", "trace output file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|phase|detail|debug)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both)")
	flags.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	flags.Duration("trace-heartbeat", 0, "heartbeat interval (0 disables)")
	flags.String("cpu-profile", "", "write a CPU profile to file")
	flags.String("mem-profile", "", "write a heap profile to file on exit")
	flags.String("runtime-trace", "", "write a Go runtime trace to file")
}

// main executes the root command and runs the cleanups. A failed command
// exits with status 1.
func main() {
	rootCmd.Version = version.Current().Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	runCleanups()
	if err != nil {
		os.Exit(1)
	}
}

// prepare loads the configuration and starts tracing and profiling for the
// command about to run.
func prepare(cmd *cobra.Command, _ []string) error {
	manifest, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	settings = manifest.Config

	colorFlag, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return fmt.Errorf("failed to get color flag: %w", err)
	}
	mode, err := readColorMode(colorFlag)
	if err != nil {
		return err
	}
	applyColorMode(mode)

	stopTrace, err := setupTracing(cmd, settings.Trace)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, stopTrace)

	stopProf, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	cleanups = append(cleanups, stopProf)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Manifest, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return &config.Manifest{Path: path, Root: filepath.Dir(path), Config: cfg}, nil
	}
	manifest, _, err := config.Load(".")
	return manifest, err
}

func runCleanups() {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
	cleanups = nil
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
