package scenario

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"heapkit/internal/config"
	"heapkit/internal/object"
	"heapkit/internal/trace"
)

func runFile(t *testing.T, f *File, opts Options) *Report {
	t.Helper()
	r, err := NewRunner(f, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(r.Close)
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return report
}

func failures(report *Report) string {
	var b strings.Builder
	for _, o := range report.Steps {
		if o.Failed() {
			b.WriteString("\n  step ")
			b.WriteString(string(o.Op))
			b.WriteString(": ")
			b.WriteString(o.Err.Error())
		}
	}
	return b.String()
}

func TestTestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "*.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) == 0 {
		t.Fatal("no scenarios in testdata")
	}
	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			report := runFile(t, f, Options{})
			if !report.OK() {
				t.Fatalf("%s%s", report.Summary(), failures(report))
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing strategy", `[[steps]]
op = "collect"`, "missing strategy"},
		{"bad strategy", `strategy = "arena"`, "unknown strategy"},
		{"unknown key", "strategy = \"tracing\"\ncolour = 1", "unknown keys: colour"},
		{"unknown op", "strategy = \"tracing\"\n[[steps]]\nop = \"jump\"", "step 1 (jump): unknown op"},
		{"missing op", "strategy = \"tracing\"\n[[steps]]\nname = \"x\"", "missing op"},
		{"new without name", "strategy = \"tracing\"\n[[steps]]\nop = \"new\"\nkind = \"integer\"\nint = 1", "missing name"},
		{"integer without int", "strategy = \"tracing\"\n[[steps]]\nop = \"new\"\nkind = \"integer\"\nname = \"x\"", "integer requires int"},
		{"bad vector args", "strategy = \"tracing\"\n[[steps]]\nop = \"new\"\nkind = \"vector3\"\nname = \"v\"\nargs = [\"a\"]", "vector3 requires 3 args"},
		{"bad code", "strategy = \"tracing\"\n[[steps]]\nop = \"expect_error\"\ncode = \"MEM9\"", "unknown error code"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestNamesAreNormalized(t *testing.T) {
	// "café" spelled with a combining accent, then with a precomposed é.
	f, err := Parse([]byte("strategy = \"refcount\"\n" +
		"[[steps]]\nop = \"new\"\nkind = \"string\"\nname = \"cafe\u0301\"\nstr = \"cafe\u0301\"\n" +
		"[[steps]]\nop = \"expect_value\"\nname = \"caf\u00e9\"\nvalue = '\"caf\u00e9\"'\n"))
	if err != nil {
		t.Fatal(err)
	}
	report := runFile(t, f, Options{})
	if !report.OK() {
		t.Fatalf("%s%s", report.Summary(), failures(report))
	}
}

func TestStrategyOverride(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "tracing_cycle.toml"))
	if err != nil {
		t.Fatal(err)
	}
	report := runFile(t, f, Options{Strategy: object.Counted})
	if report.OK() {
		t.Fatal("tracing-only steps must fail under reference counting")
	}
	if !errors.Is(report.Steps[0].Err, ErrWrongStrategy) {
		t.Fatalf("expected wrong strategy for frame step, got %v", report.Steps[0].Err)
	}
	if report.Strategy != "refcount" {
		t.Fatalf("report strategy %q", report.Strategy)
	}
}

func TestRefCountCycleLeaks(t *testing.T) {
	f, err := Parse([]byte(`
strategy = "refcount"

[[steps]]
op = "new"
kind = "array"
name = "a"
size = 1

[[steps]]
op = "set"
target = "a"
index = 0
value = "a"

[[steps]]
op = "release"
name = "a"

[[steps]]
op = "expect_alive"
name = "a"

[[steps]]
op = "expect_live"
count = 1
`))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() {
		t.Fatalf("%s%s", report.Summary(), failures(report))
	}
	if err := r.Heap().CheckLeaks(); err == nil {
		t.Fatal("expected the cycle to leak")
	}
}

func TestFailedExpectationsAreCounted(t *testing.T) {
	f, err := Parse([]byte(`
strategy = "refcount"

[[steps]]
op = "new"
kind = "integer"
name = "x"
int = 3

[[steps]]
op = "expect_value"
name = "x"
value = "4"

[[steps]]
op = "expect_error"

[[steps]]
op = "free"
name = "missing"
`))
	if err != nil {
		t.Fatal(err)
	}
	report := runFile(t, f, Options{})
	if report.Failures != 3 {
		t.Fatalf("expected 3 failures, got %d:%s", report.Failures, failures(report))
	}
	if !errors.Is(report.Steps[1].Err, ErrExpectation) {
		t.Fatalf("expected expectation failure, got %v", report.Steps[1].Err)
	}
	if !errors.Is(report.Steps[3].Err, object.ErrInvalidArgument) {
		t.Fatalf("expected unknown binding error, got %v", report.Steps[3].Err)
	}
}

func TestDefaultsApplyWithoutVMTable(t *testing.T) {
	f, err := Parse([]byte(`
strategy = "tracing"

[[steps]]
op = "new"
kind = "integer"
name = "a"
int = 1

[[steps]]
op = "new"
kind = "integer"
name = "b"
int = 2

[[steps]]
op = "expect_error"
code = "allocation_failure"
`))
	if err != nil {
		t.Fatal(err)
	}
	report := runFile(t, f, Options{Defaults: config.VMConfig{Limit: 1}})
	if !report.OK() {
		t.Fatalf("%s%s", report.Summary(), failures(report))
	}
}

func TestRunEmitsSpanFromContextTracer(t *testing.T) {
	ring := trace.NewRingTracer(256, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)
	f, err := Load(filepath.Join("testdata", "tracing_cycle.toml"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	report, err := r.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var runEnd, collects int
	for _, ev := range ring.Snapshot() {
		if ev.Kind != trace.KindSpanEnd {
			continue
		}
		switch ev.Name {
		case "scenario":
			runEnd++
			if ev.Detail != "ok" {
				t.Fatalf("run span detail %q", ev.Detail)
			}
		case "vm.collect":
			collects++
		}
	}
	if runEnd != 1 || collects != len(report.Collections) {
		t.Fatalf("run spans=%d collect spans=%d, collections=%d", runEnd, collects, len(report.Collections))
	}
	if _, ok := report.Timings().Phase("sweep"); !ok {
		t.Fatal("merged timings must include sweep")
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "vector_add.toml"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("a runner must not run twice")
	}
}

func TestSnapshotAfterRun(t *testing.T) {
	f, err := Load(filepath.Join("testdata", "vector_add.toml"))
	if err != nil {
		t.Fatal(err)
	}
	r, err := NewRunner(f, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Snapshot(); err == nil {
		t.Fatal("snapshot before run must fail")
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Label != "vector add" || len(snap.Objects) != 4 {
		t.Fatalf("unexpected snapshot %s", snap.Summary())
	}
}
