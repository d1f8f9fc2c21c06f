// Package scenario runs scripted sequences of allocation, ownership and
// collection steps against either memory strategy and checks expectations
// along the way. Scenarios are TOML files:
//
//	strategy = "tracing"
//
//	[[steps]]
//	op = "frame"
//
//	[[steps]]
//	op = "new"
//	kind = "integer"
//	name = "a"
//	int = 1
//	root = true
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/unicode/norm"

	"heapkit/internal/config"
	"heapkit/internal/object"
)

// Op names a scenario step.
type Op string

const (
	OpFrame          Op = "frame"
	OpPop            Op = "pop"
	OpNew            Op = "new"
	OpSet            Op = "set"
	OpGet            Op = "get"
	OpAdd            Op = "add"
	OpRoot           Op = "root"
	OpRetain         Op = "retain"
	OpRelease        Op = "release"
	OpFree           Op = "free"
	OpCollect        Op = "collect"
	OpExpectAlive    Op = "expect_alive"
	OpExpectFreed    Op = "expect_freed"
	OpExpectRefCount Op = "expect_refcount"
	OpExpectValue    Op = "expect_value"
	OpExpectError    Op = "expect_error"
	OpExpectLive     Op = "expect_live"
)

// IsExpectation reports whether op checks state instead of changing it.
func (op Op) IsExpectation() bool {
	return strings.HasPrefix(string(op), "expect_")
}

// Step is one entry of the steps array.
type Step struct {
	Op     Op       `toml:"op"`
	Name   string   `toml:"name"`
	Kind   string   `toml:"kind"`
	Int    *int64   `toml:"int"`
	Float  *float64 `toml:"float"`
	Str    *string  `toml:"str"`
	Args   []string `toml:"args"`
	Size   *int64   `toml:"size"`
	Root   bool     `toml:"root"`
	Target string   `toml:"target"`
	Index  int64    `toml:"index"`
	Value  string   `toml:"value"`
	Count  *int64   `toml:"count"`
	Code   string   `toml:"code"`
}

// File is a decoded scenario.
type File struct {
	Name     string          `toml:"name"`
	Strategy string          `toml:"strategy"`
	VM       config.VMConfig `toml:"vm"`
	Steps    []Step          `toml:"steps"`

	path      string
	vmDefined bool
}

// Path returns the file the scenario was loaded from, if any.
func (f *File) Path() string { return f.path }

// Load reads and validates the scenario at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return f, nil
}

// Parse decodes and validates a scenario. String literals and binding names
// are normalized to NFC so that visually identical names bind the same object.
func Parse(data []byte) (*File, error) {
	var f File
	meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	if !meta.IsDefined("strategy") {
		return nil, fmt.Errorf("missing strategy")
	}
	if _, ok := object.ParseStrategy(f.Strategy); !ok {
		return nil, fmt.Errorf("unknown strategy %q (expected: refcount|tracing)", f.Strategy)
	}
	f.vmDefined = meta.IsDefined("vm")
	f.Name = norm.NFC.String(f.Name)
	for i := range f.Steps {
		normalize(&f.Steps[i])
		if err := validate(&f.Steps[i]); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, f.Steps[i].Op, err)
		}
	}
	return &f, nil
}

func normalize(s *Step) {
	s.Name = norm.NFC.String(s.Name)
	s.Target = norm.NFC.String(s.Target)
	s.Value = norm.NFC.String(s.Value)
	if s.Str != nil {
		v := norm.NFC.String(*s.Str)
		s.Str = &v
	}
	for i, a := range s.Args {
		s.Args[i] = norm.NFC.String(a)
	}
}

func validate(s *Step) error {
	need := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("missing %s", field)
		}
		return nil
	}
	switch s.Op {
	case OpFrame, OpPop, OpCollect:
		return nil
	case OpNew:
		if err := need("name", s.Name); err != nil {
			return err
		}
		kind, ok := object.ParseKind(s.Kind)
		if !ok {
			return fmt.Errorf("unknown kind %q", s.Kind)
		}
		switch kind {
		case object.KindInteger:
			if s.Int == nil {
				return fmt.Errorf("integer requires int")
			}
		case object.KindFloat:
			if s.Float == nil {
				return fmt.Errorf("float requires float")
			}
		case object.KindString:
			if s.Str == nil {
				return fmt.Errorf("string requires str")
			}
		case object.KindVector3:
			if len(s.Args) != 3 {
				return fmt.Errorf("vector3 requires 3 args, got %d", len(s.Args))
			}
		case object.KindArray:
			if s.Size == nil {
				return fmt.Errorf("array requires size")
			}
		}
		return nil
	case OpSet:
		if err := need("target", s.Target); err != nil {
			return err
		}
		return need("value", s.Value)
	case OpGet:
		if err := need("target", s.Target); err != nil {
			return err
		}
		return need("name", s.Name)
	case OpAdd:
		if len(s.Args) != 2 {
			return fmt.Errorf("add requires 2 args, got %d", len(s.Args))
		}
		return need("name", s.Name)
	case OpRoot, OpRetain, OpRelease, OpFree, OpExpectAlive, OpExpectFreed:
		return need("name", s.Name)
	case OpExpectRefCount:
		if s.Count == nil {
			return fmt.Errorf("missing count")
		}
		return need("name", s.Name)
	case OpExpectValue:
		return need("name", s.Name)
	case OpExpectLive:
		if s.Count == nil {
			return fmt.Errorf("missing count")
		}
		return nil
	case OpExpectError:
		if s.Code != "" {
			if _, ok := object.ParseCode(s.Code); !ok {
				return fmt.Errorf("unknown error code %q", s.Code)
			}
		}
		return nil
	case "":
		return fmt.Errorf("missing op")
	default:
		return fmt.Errorf("unknown op")
	}
}
