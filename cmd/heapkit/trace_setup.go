package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"heapkit/internal/config"
	"heapkit/internal/trace"
)

// setupTracing initializes the tracer from [trace] in heapkit.toml, with
// explicitly set flags taking precedence. It attaches the tracer to the
// command context and returns a cleanup function.
func setupTracing(cmd *cobra.Command, cfg config.TraceConfig) (func(), error) {
	flags := cmd.Root().PersistentFlags()

	if flags.Changed("trace") {
		output, err := flags.GetString("trace")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace flag: %w", err)
		}
		cfg.Output = output
		// An explicit output with the level left at off means "trace phases".
		if !flags.Changed("trace-level") && cfg.Level == "off" {
			cfg.Level = "phase"
		}
	}
	if flags.Changed("trace-level") {
		levelStr, err := flags.GetString("trace-level")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
		}
		cfg.Level = levelStr
	}
	if flags.Changed("trace-mode") {
		modeStr, err := flags.GetString("trace-mode")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
		}
		cfg.Mode = modeStr
	}
	if flags.Changed("trace-ring-size") {
		ringSize, err := flags.GetInt("trace-ring-size")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
		}
		cfg.RingSize = ringSize
	}
	if flags.Changed("trace-heartbeat") {
		interval, err := flags.GetDuration("trace-heartbeat")
		if err != nil {
			return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
		}
		cfg.Heartbeat = interval
	}

	level, err := trace.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}
	mode, err := trace.ParseMode(cfg.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	format, err := trace.ParseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid trace format: %w", err)
	}

	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: cfg.Output,
		RingSize:   cfg.RingSize,
		Heartbeat:  cfg.Heartbeat,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	ctx := trace.WithTracer(cmd.Context(), tracer)
	cmd.SetContext(ctx)
	cmd.Root().SetContext(ctx)

	heartbeat := trace.StartHeartbeat(tracer, cfg.Heartbeat, heapStatus)

	cleanup := func() {
		// Stop heartbeat first
		if heartbeat != nil {
			heartbeat.Stop()
		}
		if ring := ringOf(tracer); ring != nil {
			if err := ring.Dump(cmd.ErrOrStderr(), format); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "trace: dump error: %v\n", err)
			}
		}
		if err := tracer.Flush(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: flush error: %v\n", err)
		}
		if err := tracer.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: close error: %v\n", err)
		}
	}
	return cleanup, nil
}

// ringOf returns the ring buffer of a ring-only tracer. Ring contents are
// only dumped when nothing was streamed.
func ringOf(t trace.Tracer) *trace.RingTracer {
	ring, _ := t.(*trace.RingTracer)
	return ring
}

// heapStatus describes the Go heap for heartbeat events.
func heapStatus() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return fmt.Sprintf("goroutines=%d heap=%dKiB gc=%d", runtime.NumGoroutine(), ms.HeapAlloc/1024, ms.NumGC)
}
