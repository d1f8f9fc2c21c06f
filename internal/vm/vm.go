// Package vm implements the tracing ownership strategy: a stop-the-world
// mark-and-sweep collector whose roots are the objects referenced from the
// frames on the VM's frame stack.
//
// Objects allocated by a VM carry no counts. Every object is registered in
// the VM's arena exactly once and stays there until a collection finds it
// unreachable from any frame, or until the VM itself is freed.
package vm

import (
	"heapkit/internal/object"
	"heapkit/internal/stack"
	"heapkit/internal/trace"
)

const (
	defaultCapacity      = 8
	defaultDebugCapacity = 64
)

// Options configures a VM.
type Options struct {
	// Debug records the identity of every swept object for DebugWasFreed.
	Debug bool
	// Limit caps the number of registered objects. Zero means unlimited.
	Limit int
	// InitialCapacity sizes the frame stack and the object registry.
	// Zero means 8.
	InitialCapacity int
	// Tracer receives collection, allocation and error events.
	Tracer trace.Tracer
}

// Stats is a snapshot of VM activity.
type Stats struct {
	Allocs      uint64
	Frees       uint64
	Collections uint64
	Live        int
	Frames      int
	RegistryCap int
	FrameCap    int
	FreedLogged int
}

// VM owns a frame stack and an arena of traced objects.
// A VM is not safe for concurrent use.
type VM struct {
	serial  uint64
	nextID  uint64
	frames  *stack.Stack[*Frame]
	objects *stack.Stack[*object.Object]
	debug   *freedLog
	limit   int
	tracer  trace.Tracer
	freed   bool

	allocs uint64
	frees  uint64
	cycles uint64
}

// New creates a VM with default capacities. When debug is set the VM
// remembers every object it sweeps.
func New(debug bool) *VM {
	return NewWithOptions(Options{Debug: debug})
}

// NewWithOptions creates a VM from opts.
func NewWithOptions(opts Options) *VM {
	capacity := opts.InitialCapacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	limit := opts.Limit
	if limit < 0 {
		limit = 0
	}
	vm := &VM{
		serial:  object.NextOwnerSerial(),
		nextID:  1,
		frames:  stack.New[*Frame](capacity),
		objects: stack.New[*object.Object](capacity),
		limit:   limit,
		tracer:  trace.OrNop(opts.Tracer),
	}
	if opts.Debug {
		vm.debug = newFreedLog(defaultDebugCapacity)
	}
	return vm
}

// Check validates that obj is a live object registered with this VM.
func (vm *VM) Check(obj *object.Object, what string) error {
	if vm.freed {
		return object.Errorf(object.CodeUseAfterFree, "vm has been freed")
	}
	return object.CheckOwned(obj, object.Traced, vm.serial, what)
}

// Len returns the number of registered objects.
func (vm *VM) Len() int {
	return vm.objects.Len()
}

// FrameDepth returns the number of frames on the frame stack.
func (vm *VM) FrameDepth() int {
	return vm.frames.Len()
}

// Freed reports whether Free has been called.
func (vm *VM) Freed() bool {
	return vm.freed
}

// Debug reports whether the VM records swept objects.
func (vm *VM) Debug() bool {
	return vm.debug != nil
}

// Objects returns the registered objects in registration order.
func (vm *VM) Objects() []*object.Object {
	out := make([]*object.Object, vm.objects.Len())
	for i := range out {
		out[i] = vm.objects.At(i)
	}
	return out
}

// Frames returns the frames on the stack, bottom first.
func (vm *VM) Frames() []*Frame {
	out := make([]*Frame, vm.frames.Len())
	for i := range out {
		out[i] = vm.frames.At(i)
	}
	return out
}

// Stats returns the current counters.
func (vm *VM) Stats() Stats {
	s := Stats{
		Allocs:      vm.allocs,
		Frees:       vm.frees,
		Collections: vm.cycles,
		Live:        vm.objects.Len(),
		Frames:      vm.frames.Len(),
		RegistryCap: vm.objects.Cap(),
		FrameCap:    vm.frames.Cap(),
	}
	if vm.debug != nil {
		s.FreedLogged = vm.debug.ids.Len()
	}
	return s
}

// Free releases every frame still on the stack and every registered object,
// reachable or not, then drops the registry, the frame stack and the debug
// log. The VM rejects further use.
func (vm *VM) Free() {
	if vm == nil || vm.freed {
		return
	}
	for {
		f, ok := vm.frames.Pop()
		if !ok {
			break
		}
		f.Free()
	}
	n := vm.objects.Len()
	for i := 0; i < n; i++ {
		obj := vm.objects.At(i)
		obj.Release()
		vm.frees++
	}
	trace.Point(vm.tracer, trace.ScopeCollect, "vm.free", "released %d objects", n)
	vm.objects.Free()
	vm.frames.Free()
	vm.debug = nil
	vm.freed = true
}
