package heapdump

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrSchema reports a snapshot written with an unsupported schema version.
var ErrSchema = errors.New("heapdump: unsupported snapshot schema")

// Encode writes s to w as msgpack.
func Encode(w io.Writer, s *Snapshot) error {
	if s == nil {
		return errors.New("heapdump: nil snapshot")
	}
	return msgpack.NewEncoder(w).Encode(s)
}

// Decode reads a snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := msgpack.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("heapdump: decode: %w", err)
	}
	if s.Schema != schemaVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSchema, s.Schema, schemaVersion)
	}
	return &s, nil
}

// WriteFile stores s at path, replacing any existing file atomically.
func WriteFile(path string, s *Snapshot) (err error) {
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".heapdump-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(f.Name())
		}
	}()
	if err = Encode(f, s); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

// ReadFile loads a snapshot from path.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
