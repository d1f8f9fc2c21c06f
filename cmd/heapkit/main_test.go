package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// execute runs the root command with args against an empty config file so
// the results do not depend on the working directory.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "heapkit.toml")
	if err := os.WriteFile(cfg, []byte("[vm]\ninitial_capacity = 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfg, "--color", "off"}, args...))
	err := rootCmd.Execute()
	runCleanups()
	return out.String(), err
}

// resetFlags restores every flag to its default; cobra keeps values between
// Execute calls.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestRunAndInspect(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "heap.msgpack")
	scenarioPath := filepath.Join("..", "..", "internal", "scenario", "testdata", "vector_add.toml")
	out, err := execute(t, "run", "--dump", dump, scenarioPath)
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}
	for _, want := range []string{"vector add [refcount]", "ok", "snapshot written to"} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "inspect", "--width", "100", dump)
	if err != nil {
		t.Fatalf("inspect failed: %v\n%s", err, out)
	}
	for _, want := range []string{"KIND", "vector3", "float"} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output missing %q:\n%s", want, out)
		}
	}
}

func TestRunReportsFailedScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	body := "strategy = \"tracing\"\n[[steps]]\nop = \"new\"\nkind = \"integer\"\nname = \"x\"\nint = 1\n" +
		"[[steps]]\nop = \"expect_value\"\nname = \"x\"\nvalue = \"2\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "run", path)
	if err == nil || !strings.Contains(err.Error(), "1 failed") {
		t.Fatalf("expected a failed scenario, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "FAIL") {
		t.Errorf("output should mark the failed step:\n%s", out)
	}
}

func TestStressCommand(t *testing.T) {
	out, err := execute(t, "stress", "--ui", "off", "--workers", "2", "--rounds", "2", "--ops", "200", "--seed", "9")
	if err != nil {
		t.Fatalf("stress failed: %v\n%s", err, out)
	}
	for _, want := range []string{"refcount", "tracing", "2 rounds, 400 ops"} {
		if !strings.Contains(out, want) {
			t.Errorf("stress output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var payload versionPayload
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("invalid json %q: %v", out, err)
	}
	if payload.Tool != "heapkit" || payload.Version == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestReadMode(t *testing.T) {
	tests := []struct {
		in   string
		want uiMode
		ok   bool
	}{
		{"", uiModeAuto, true},
		{" AUTO ", uiModeAuto, true},
		{"on", uiModeOn, true},
		{"off", uiModeOff, true},
		{"sometimes", "", false},
	}
	for _, tt := range tests {
		got, err := readUIMode(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("readUIMode(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := readColorMode("blue"); err == nil || !strings.Contains(err.Error(), "--color") {
		t.Errorf("expected a --color error, got %v", err)
	}
	if shouldUseTUI(uiModeOff) || !shouldUseTUI(uiModeOn) {
		t.Error("explicit modes must win over terminal detection")
	}
}
