// Package config loads heapkit.toml, the optional project configuration that
// supplies defaults for VM options, tracing and stress runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"heapkit/internal/trace"
)

// FileName is the configuration file looked up by Find.
const FileName = "heapkit.toml"

// Config is the decoded form of heapkit.toml.
type Config struct {
	VM     VMConfig     `toml:"vm"`
	Trace  TraceConfig  `toml:"trace"`
	Stress StressConfig `toml:"stress"`
}

// VMConfig holds defaults for tracing VMs and reference-counted heaps.
type VMConfig struct {
	Debug           bool `toml:"debug"`
	InitialCapacity int  `toml:"initial_capacity"`
	Limit           int  `toml:"limit"`
}

// TraceConfig holds tracer defaults.
type TraceConfig struct {
	Level     string        `toml:"level"`
	Mode      string        `toml:"mode"`
	Output    string        `toml:"output"`
	Format    string        `toml:"format"`
	RingSize  int           `toml:"ring_size"`
	Heartbeat time.Duration `toml:"heartbeat"`
}

// StressConfig holds defaults for randomized stress runs.
type StressConfig struct {
	Workers  int    `toml:"workers"`
	Rounds   int    `toml:"rounds"`
	Ops      int    `toml:"ops"`
	Seed     uint64 `toml:"seed"`
	Strategy string `toml:"strategy"`
}

// Manifest is a configuration file together with its location.
type Manifest struct {
	Path   string
	Root   string
	Config Config
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		VM: VMConfig{InitialCapacity: 8},
		Trace: TraceConfig{
			Level:    "off",
			Mode:     "stream",
			Output:   "-",
			Format:   "auto",
			RingSize: 4096,
		},
		Stress: StressConfig{
			Workers:  4,
			Rounds:   8,
			Ops:      2000,
			Seed:     1,
			Strategy: "both",
		},
	}
}

// Find walks up from startDir looking for heapkit.toml.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// Load finds and decodes heapkit.toml starting at startDir. When no file
// exists it returns the defaults and false.
func Load(startDir string) (*Manifest, bool, error) {
	path, ok, err := Find(startDir)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return &Manifest{Config: Default()}, false, nil
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, true, err
	}
	return &Manifest{Path: path, Root: filepath.Dir(path), Config: cfg}, true, nil
}

// LoadFile decodes path on top of the defaults and validates the result.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("trace", "output") && strings.TrimSpace(cfg.Trace.Output) == "" {
		return Config{}, fmt.Errorf("%s: [trace].output must not be empty", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	if c.VM.InitialCapacity < 0 {
		return fmt.Errorf("[vm].initial_capacity must be >= 0, got %d", c.VM.InitialCapacity)
	}
	if c.VM.Limit < 0 {
		return fmt.Errorf("[vm].limit must be >= 0, got %d", c.VM.Limit)
	}
	if _, err := trace.ParseLevel(c.Trace.Level); err != nil {
		return fmt.Errorf("[trace].level: %w", err)
	}
	if _, err := trace.ParseMode(c.Trace.Mode); err != nil {
		return fmt.Errorf("[trace].mode: %w", err)
	}
	if _, err := trace.ParseFormat(c.Trace.Format); err != nil {
		return fmt.Errorf("[trace].format: %w", err)
	}
	if c.Trace.RingSize < 0 {
		return fmt.Errorf("[trace].ring_size must be >= 0, got %d", c.Trace.RingSize)
	}
	if c.Trace.Heartbeat < 0 {
		return fmt.Errorf("[trace].heartbeat must be >= 0, got %s", c.Trace.Heartbeat)
	}
	if c.Stress.Workers < 1 || c.Stress.Rounds < 1 || c.Stress.Ops < 1 {
		return fmt.Errorf("[stress] workers, rounds and ops must be >= 1")
	}
	switch c.Stress.Strategy {
	case "refcount", "tracing", "both":
	default:
		return fmt.Errorf("[stress].strategy must be refcount|tracing|both, got %q", c.Stress.Strategy)
	}
	return nil
}
