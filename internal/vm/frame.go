package vm

import (
	"heapkit/internal/object"
	"heapkit/internal/stack"
	"heapkit/internal/trace"
)

// Frame is an activation record whose references are collection roots for
// as long as the frame is on its VM's frame stack.
type Frame struct {
	vm    *VM
	depth int
	roots *stack.Stack[*object.Object]
	freed bool
}

// NewFrame creates a frame and pushes it onto the frame stack.
func (vm *VM) NewFrame() (*Frame, error) {
	if vm.freed {
		return nil, object.Errorf(object.CodeUseAfterFree, "vm has been freed")
	}
	f := &Frame{
		vm:    vm,
		depth: vm.frames.Len(),
		roots: stack.New[*object.Object](defaultCapacity),
	}
	vm.frames.Push(f)
	trace.Point(vm.tracer, trace.ScopeObject, "vm.frame.push", "depth %d", vm.frames.Len())
	return f, nil
}

// PopFrame removes the top frame and returns it, or nil when the stack is
// empty. Objects referenced only by the popped frame become unreachable; they
// are reclaimed by the next collection, not here. The caller releases the
// frame with Free.
func (vm *VM) PopFrame() *Frame {
	if vm == nil || vm.freed {
		return nil
	}
	f, ok := vm.frames.Pop()
	if !ok {
		return nil
	}
	trace.Point(vm.tracer, trace.ScopeObject, "vm.frame.pop", "depth %d", vm.frames.Len())
	return f
}

// Reference records obj as a root of f. The same object may be referenced
// more than once.
func (f *Frame) Reference(obj *object.Object) error {
	if f == nil {
		return object.Errorf(object.CodeInvalidArgument, "frame is nil")
	}
	if f.freed {
		return object.Errorf(object.CodeUseAfterFree, "frame has been freed")
	}
	if err := f.vm.Check(obj, "root"); err != nil {
		trace.Errorf(f.vm.tracer, trace.ScopeObject, "vm.frame.ref", "%v", err)
		return err
	}
	f.roots.Push(obj)
	return nil
}

// Roots returns the objects referenced by f in reference order.
func (f *Frame) Roots() []*object.Object {
	if f == nil || f.freed {
		return nil
	}
	out := make([]*object.Object, f.roots.Len())
	for i := range out {
		out[i] = f.roots.At(i)
	}
	return out
}

// Len returns the number of references held by f.
func (f *Frame) Len() int {
	if f == nil || f.freed {
		return 0
	}
	return f.roots.Len()
}

// Depth returns the stack position f was pushed at; the bottom frame is 0.
func (f *Frame) Depth() int {
	if f == nil {
		return -1
	}
	return f.depth
}

// Free releases the frame's root storage. Referenced objects are untouched.
func (f *Frame) Free() {
	if f == nil || f.freed {
		return
	}
	f.roots.Free()
	f.freed = true
}
