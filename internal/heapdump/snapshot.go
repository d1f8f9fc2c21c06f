// Package heapdump captures the live objects of a reference-counted heap or
// a tracing VM, stores them as msgpack and renders them as tables.
package heapdump

import (
	"fmt"
	"strings"
	"time"

	"fortio.org/safecast"

	"heapkit/internal/object"
	"heapkit/internal/rc"
	"heapkit/internal/vm"
)

// Current schema version, bump when Snapshot changes shape.
const schemaVersion uint16 = 1

// Record describes one live object.
type Record struct {
	ID       uint64   `msgpack:"id"`
	Kind     string   `msgpack:"kind"`
	RefCount uint32   `msgpack:"rc,omitempty"`
	Length   int32    `msgpack:"len"`
	Value    string   `msgpack:"value,omitempty"`
	Children []uint64 `msgpack:"children,omitempty"` // 0 marks an empty slot
	Rooted   bool     `msgpack:"rooted,omitempty"`
}

// FrameRecord lists the roots of one VM frame.
type FrameRecord struct {
	Depth int32    `msgpack:"depth"`
	Roots []uint64 `msgpack:"roots"`
}

// Counters mirrors the activity counters of the captured heap or VM.
type Counters struct {
	Allocs      uint64 `msgpack:"allocs"`
	Frees       uint64 `msgpack:"frees"`
	Increments  uint64 `msgpack:"incr,omitempty"`
	Decrements  uint64 `msgpack:"decr,omitempty"`
	Collections uint64 `msgpack:"collections,omitempty"`
}

// Snapshot is a point-in-time picture of one heap or VM.
type Snapshot struct {
	Schema   uint16        `msgpack:"schema"`
	Strategy string        `msgpack:"strategy"`
	Label    string        `msgpack:"label,omitempty"`
	TakenAt  time.Time     `msgpack:"taken_at"`
	Counters Counters      `msgpack:"counters"`
	Objects  []Record      `msgpack:"objects"`
	Frames   []FrameRecord `msgpack:"frames,omitempty"`
	FreedIDs []uint64      `msgpack:"freed,omitempty"`
}

// FromHeap captures every live object of h.
func FromHeap(h *rc.Heap, label string) (*Snapshot, error) {
	st := h.Stats()
	snap := &Snapshot{
		Schema:   schemaVersion,
		Strategy: object.Counted.String(),
		Label:    label,
		TakenAt:  time.Now().UTC(),
		Counters: Counters{
			Allocs:     st.Allocs,
			Frees:      st.Frees,
			Increments: st.Increments,
			Decrements: st.Decrements,
		},
	}
	for _, obj := range h.Objects() {
		rec, err := recordOf(obj)
		if err != nil {
			return nil, err
		}
		rec.RefCount = obj.RefCount
		snap.Objects = append(snap.Objects, rec)
	}
	return snap, nil
}

// FromVM captures the registry, the frame stack and, in debug mode, the
// swept object log of m.
func FromVM(m *vm.VM, label string) (*Snapshot, error) {
	st := m.Stats()
	snap := &Snapshot{
		Schema:   schemaVersion,
		Strategy: object.Traced.String(),
		Label:    label,
		TakenAt:  time.Now().UTC(),
		Counters: Counters{
			Allocs:      st.Allocs,
			Frees:       st.Frees,
			Collections: st.Collections,
		},
		FreedIDs: m.FreedIDs(),
	}
	rooted := make(map[uint64]bool)
	for _, f := range m.Frames() {
		depth, err := safecast.Conv[int32](f.Depth())
		if err != nil {
			return nil, fmt.Errorf("frame depth: %w", err)
		}
		fr := FrameRecord{Depth: depth}
		for _, root := range f.Roots() {
			fr.Roots = append(fr.Roots, root.ID)
			rooted[root.ID] = true
		}
		snap.Frames = append(snap.Frames, fr)
	}
	for _, obj := range m.Objects() {
		rec, err := recordOf(obj)
		if err != nil {
			return nil, err
		}
		rec.Rooted = rooted[obj.ID]
		snap.Objects = append(snap.Objects, rec)
	}
	return snap, nil
}

func recordOf(obj *object.Object) (Record, error) {
	n, err := safecast.Conv[int32](object.Length(obj))
	if err != nil {
		return Record{}, fmt.Errorf("object #%d length: %w", obj.ID, err)
	}
	rec := Record{
		ID:     obj.ID,
		Kind:   obj.Kind.String(),
		Length: n,
	}
	switch obj.Kind {
	case object.KindVector3:
		for _, c := range obj.Vec.Components() {
			rec.Children = append(rec.Children, idOf(c))
		}
	case object.KindArray:
		rec.Children = make([]uint64, len(obj.Arr))
		for i, c := range obj.Arr {
			rec.Children[i] = idOf(c)
		}
	default:
		rec.Value = object.Format(obj)
	}
	return rec, nil
}

func idOf(obj *object.Object) uint64 {
	if obj == nil {
		return 0
	}
	return obj.ID
}

// Find returns the record with the given ID.
func (s *Snapshot) Find(id uint64) (Record, bool) {
	for _, rec := range s.Objects {
		if rec.ID == id {
			return rec, true
		}
	}
	return Record{}, false
}

// Describe renders the value column of rec: the literal for scalars and
// strings, the child IDs for composites.
func (rec Record) Describe() string {
	isVector := rec.Kind == object.KindVector3.String()
	if !isVector && rec.Kind != object.KindArray.String() {
		return rec.Value
	}
	parts := make([]string, len(rec.Children))
	for i, id := range rec.Children {
		if id == 0 {
			parts[i] = "nil"
			continue
		}
		parts[i] = fmt.Sprintf("#%d", id)
	}
	if isVector {
		return "vec3(" + strings.Join(parts, ", ") + ")"
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Summary returns a one-line description of the snapshot.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s snapshot", s.Strategy)
	if s.Label != "" {
		fmt.Fprintf(&b, " %q", s.Label)
	}
	fmt.Fprintf(&b, ": %d live objects, allocs=%d frees=%d", len(s.Objects), s.Counters.Allocs, s.Counters.Frees)
	if s.Strategy == object.Traced.String() {
		fmt.Fprintf(&b, " collections=%d frames=%d", s.Counters.Collections, len(s.Frames))
	} else {
		fmt.Fprintf(&b, " incr=%d decr=%d", s.Counters.Increments, s.Counters.Decrements)
	}
	return b.String()
}
