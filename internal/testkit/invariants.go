// Package testkit holds whole-heap invariant checks shared by the stress
// runner and package tests.
package testkit

import (
	"fmt"

	"heapkit/internal/object"
	"heapkit/internal/rc"
	"heapkit/internal/vm"
)

// CheckRefCounts verifies the counting invariants of h:
// 1) every live object's count equals its external owners plus the
// references held by other live objects
// 2) every child of a live object is itself live
// 3) every object listed in external is live
//
// external maps objects to the number of owning handles the caller holds.
func CheckRefCounts(h *rc.Heap, external map[*object.Object]uint32) error {
	if h == nil {
		return fmt.Errorf("nil heap")
	}
	want := make(map[*object.Object]uint32, h.Live())
	for obj, n := range external {
		if !obj.Alive {
			return fmt.Errorf("external handle to dead %s#%d", obj.Kind, obj.ID)
		}
		want[obj] += n
	}
	live := h.Objects()
	var dead *object.Object
	for _, obj := range live {
		obj.Children(func(child *object.Object) {
			if !child.Alive && dead == nil {
				dead = child
			}
			want[child]++
		})
	}
	if dead != nil {
		return fmt.Errorf("live object references dead %s#%d", dead.Kind, dead.ID)
	}
	for _, obj := range live {
		if obj.RefCount != want[obj] {
			return fmt.Errorf("%s#%d rc=%d, expected %d owners", obj.Kind, obj.ID, obj.RefCount, want[obj])
		}
		delete(want, obj)
	}
	for obj := range want {
		return fmt.Errorf("%s#%d is owned but not registered with the heap", obj.Kind, obj.ID)
	}
	return nil
}

// Reachable returns every object reachable from the roots of m's frames.
func Reachable(m *vm.VM) map[*object.Object]bool {
	seen := make(map[*object.Object]bool)
	var pending []*object.Object
	for _, f := range m.Frames() {
		pending = append(pending, f.Roots()...)
	}
	for len(pending) > 0 {
		obj := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if obj == nil || seen[obj] {
			continue
		}
		seen[obj] = true
		obj.Children(func(child *object.Object) {
			pending = append(pending, child)
		})
	}
	return seen
}

// CheckCollected verifies the state of m right after a collection:
// 1) the registry holds exactly the objects reachable from the frames
// 2) every registered object is alive and unmarked
func CheckCollected(m *vm.VM) error {
	if m == nil {
		return fmt.Errorf("nil vm")
	}
	want := Reachable(m)
	objs := m.Objects()
	for _, obj := range objs {
		switch {
		case !obj.Alive:
			return fmt.Errorf("registered %s#%d is dead", obj.Kind, obj.ID)
		case obj.Marked:
			return fmt.Errorf("%s#%d still marked after collection", obj.Kind, obj.ID)
		case !want[obj]:
			return fmt.Errorf("unreachable %s#%d survived", obj.Kind, obj.ID)
		}
	}
	if len(objs) != len(want) {
		return fmt.Errorf("%d registered objects, %d reachable", len(objs), len(want))
	}
	return nil
}
