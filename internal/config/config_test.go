package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestFindWalksUp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, FileName), "")
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path, ok, err := Find(nested)
	if err != nil || !ok {
		t.Fatalf("Find() = %q, %v, %v", path, ok, err)
	}
	if path != filepath.Join(root, FileName) {
		t.Fatalf("found %q", path)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	m, ok, err := Load(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		// A heapkit.toml above the temp dir would be picked up; nothing to check then.
		t.Skip("found a configuration file above the temp dir")
	}
	if diff := cmp.Diff(Default(), m.Config); diff != "" {
		t.Fatalf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	writeFile(t, path, `
[vm]
debug = true
limit = 128

[trace]
level = "detail"
heartbeat = "250ms"

[stress]
workers = 2
strategy = "tracing"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := Default()
	want.VM.Debug = true
	want.VM.Limit = 128
	want.Trace.Level = "detail"
	want.Trace.Heartbeat = 250 * time.Millisecond
	want.Stress.Workers = 2
	want.Stress.Strategy = "tracing"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "[vm\n", "failed to parse TOML"},
		{"unknown key", "[vm]\ncolour = 1\n", "unknown keys: vm.colour"},
		{"bad level", "[trace]\nlevel = \"loud\"\n", "[trace].level"},
		{"bad mode", "[trace]\nmode = \"tape\"\n", "[trace].mode"},
		{"empty output", "[trace]\noutput = \" \"\n", "[trace].output"},
		{"negative limit", "[vm]\nlimit = -1\n", "[vm].limit"},
		{"zero workers", "[stress]\nworkers = 0\n", "[stress]"},
		{"bad strategy", "[stress]\nstrategy = \"arena\"\n", "[stress].strategy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			writeFile(t, path, tt.body)
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
