// Package rc implements the reference-counted ownership strategy.
//
// Every object starts with a count of one, composite objects hold one count on
// each child, and an object is deallocated, children first, as soon as its
// count drops to zero. Cycles are never reclaimed: a cyclic graph keeps its
// own counts above zero and shows up in CheckLeaks.
//
// A Heap is an accounting allocator, not a collector. It assigns identities,
// enforces an optional live-object limit and keeps the counters used by heap
// dumps and leak checks.
package rc

import (
	"fmt"
	"sort"
	"strings"

	"heapkit/internal/object"
	"heapkit/internal/trace"
)

// Options configures a Heap.
type Options struct {
	// Limit caps the number of live objects. Zero means unlimited.
	Limit int
	// Tracer receives allocation, free and error events. Nil disables tracing.
	Tracer trace.Tracer
}

// Stats is a snapshot of heap activity.
type Stats struct {
	Allocs     uint64
	Frees      uint64
	Increments uint64
	Decrements uint64
	Live       int
}

// Heap owns the accounting for reference-counted objects.
// A Heap is not safe for concurrent use.
type Heap struct {
	serial uint64
	nextID uint64
	live   map[uint64]*object.Object
	limit  int
	tracer trace.Tracer

	allocs uint64
	frees  uint64
	incrs  uint64
	decrs  uint64
}

// NewHeap creates an empty heap.
func NewHeap(opts Options) *Heap {
	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}
	return &Heap{
		serial: object.NextOwnerSerial(),
		nextID: 1,
		live:   make(map[uint64]*object.Object, 64),
		limit:  limit,
		tracer: trace.OrNop(opts.Tracer),
	}
}

// Check validates that obj is a live object allocated by this heap.
func (h *Heap) Check(obj *object.Object, what string) error {
	return object.CheckOwned(obj, object.Counted, h.serial, what)
}

func (h *Heap) alloc(kind object.Kind) (*object.Object, error) {
	if h.limit > 0 && len(h.live) >= h.limit {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.alloc", "limit of %d live objects reached allocating %s", h.limit, kind)
		return nil, object.Errorf(object.CodeAllocationFailure, "heap limit of %d live objects reached", h.limit)
	}
	obj := &object.Object{
		Kind:     kind,
		Strategy: object.Counted,
		Owner:    h.serial,
		ID:       h.nextID,
		Alive:    true,
		RefCount: 1,
	}
	h.nextID++
	h.live[obj.ID] = obj
	h.allocs++
	trace.Point(h.tracer, trace.ScopeObject, "rc.alloc", "%s#%d", kind, obj.ID)
	return obj, nil
}

// retire drops obj's payload and removes it from the live set.
func (h *Heap) retire(obj *object.Object) {
	delete(h.live, obj.ID)
	obj.Release()
	h.frees++
	trace.Point(h.tracer, trace.ScopeObject, "rc.free", "%s#%d", obj.Kind, obj.ID)
}

// Live returns the number of live objects.
func (h *Heap) Live() int {
	return len(h.live)
}

// Stats returns the current counters.
func (h *Heap) Stats() Stats {
	return Stats{
		Allocs:     h.allocs,
		Frees:      h.frees,
		Increments: h.incrs,
		Decrements: h.decrs,
		Live:       len(h.live),
	}
}

// Objects returns the live objects in allocation order.
func (h *Heap) Objects() []*object.Object {
	out := make([]*object.Object, 0, len(h.live))
	for _, obj := range h.live {
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CheckLeaks returns an error describing every object still alive.
// At most eight objects are listed individually.
func (h *Heap) CheckLeaks() error {
	if len(h.live) == 0 {
		return nil
	}
	const maxList = 8
	kindCounts := make(map[object.Kind]int, 5)
	list := make([]string, 0, maxList)
	for _, obj := range h.Objects() {
		kindCounts[obj.Kind]++
		if len(list) < maxList {
			list = append(list, fmt.Sprintf("%s#%d(rc=%d)", obj.Kind, obj.ID, obj.RefCount))
		}
	}
	kindList := make([]string, 0, len(kindCounts))
	for kind, n := range kindCounts {
		kindList = append(kindList, fmt.Sprintf("%s=%d", kind, n))
	}
	sort.Strings(kindList)
	return fmt.Errorf("heap leak detected: %d objects still alive (%s): %s",
		len(h.live), strings.Join(kindList, ", "), strings.Join(list, ", "))
}
