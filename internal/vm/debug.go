package vm

import (
	"heapkit/internal/object"
	"heapkit/internal/stack"
)

// freedLog remembers the identity of every object a debug VM has swept.
type freedLog struct {
	ids  *stack.Stack[uint64]
	seen map[uint64]struct{}
}

func newFreedLog(capacity int) *freedLog {
	return &freedLog{
		ids:  stack.New[uint64](capacity),
		seen: make(map[uint64]struct{}, capacity),
	}
}

func (l *freedLog) record(id uint64) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.ids.Push(id)
}

// DebugWasFreed reports whether obj was deallocated by a collection of this
// VM. It always reports false when debug mode is off, after Free, and for
// objects of another VM.
func (vm *VM) DebugWasFreed(obj *object.Object) bool {
	if vm.debug == nil || obj == nil || obj.Owner != vm.serial || obj.Strategy != object.Traced {
		return false
	}
	_, ok := vm.debug.seen[obj.ID]
	return ok
}

// FreedIDs returns the IDs of swept objects in sweep order, or nil when
// debug mode is off.
func (vm *VM) FreedIDs() []uint64 {
	if vm.debug == nil {
		return nil
	}
	out := make([]uint64, vm.debug.ids.Len())
	for i := range out {
		out[i] = vm.debug.ids.At(i)
	}
	return out
}
