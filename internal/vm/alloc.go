package vm

import (
	"heapkit/internal/object"
	"heapkit/internal/trace"
)

var _ object.Allocator = (*VM)(nil)

func (vm *VM) alloc(kind object.Kind) (*object.Object, error) {
	if vm.freed {
		return nil, object.Errorf(object.CodeUseAfterFree, "vm has been freed")
	}
	if vm.limit > 0 && vm.objects.Len() >= vm.limit {
		trace.Errorf(vm.tracer, trace.ScopeObject, "vm.alloc", "limit of %d objects reached allocating %s", vm.limit, kind)
		return nil, object.Errorf(object.CodeAllocationFailure, "vm limit of %d registered objects reached", vm.limit)
	}
	obj := &object.Object{
		Kind:     kind,
		Strategy: object.Traced,
		Owner:    vm.serial,
		ID:       vm.nextID,
		Alive:    true,
	}
	vm.nextID++
	vm.objects.Push(obj)
	vm.allocs++
	trace.Point(vm.tracer, trace.ScopeObject, "vm.alloc", "%s#%d", kind, obj.ID)
	return obj, nil
}

// NewInteger allocates and registers an integer.
func (vm *VM) NewInteger(v int32) (*object.Object, error) {
	obj, err := vm.alloc(object.KindInteger)
	if err != nil {
		return nil, err
	}
	obj.Int = v
	return obj, nil
}

// NewFloat allocates and registers a float.
func (vm *VM) NewFloat(v float32) (*object.Object, error) {
	obj, err := vm.alloc(object.KindFloat)
	if err != nil {
		return nil, err
	}
	obj.Float = v
	return obj, nil
}

// NewString allocates and registers a string holding a private copy of s.
func (vm *VM) NewString(s string) (*object.Object, error) {
	return vm.NewStringBuffer([]byte(s))
}

// NewStringBuffer allocates and registers a string that adopts buf.
func (vm *VM) NewStringBuffer(buf []byte) (*object.Object, error) {
	obj, err := vm.alloc(object.KindString)
	if err != nil {
		return nil, err
	}
	obj.Str = buf
	return obj, nil
}

// NewVector3 allocates and registers a vector referring to x, y and z.
func (vm *VM) NewVector3(x, y, z *object.Object) (*object.Object, error) {
	if err := vm.Check(x, "x component"); err != nil {
		return nil, err
	}
	if err := vm.Check(y, "y component"); err != nil {
		return nil, err
	}
	if err := vm.Check(z, "z component"); err != nil {
		return nil, err
	}
	obj, err := vm.alloc(object.KindVector3)
	if err != nil {
		return nil, err
	}
	obj.Vec = object.Vector3{X: x, Y: y, Z: z}
	return obj, nil
}

// NewArray allocates and registers an array of size empty slots.
func (vm *VM) NewArray(size int) (*object.Object, error) {
	if size < 0 {
		return nil, object.Errorf(object.CodeInvalidArgument, "negative array size %d", size)
	}
	obj, err := vm.alloc(object.KindArray)
	if err != nil {
		return nil, err
	}
	obj.Arr = make([]*object.Object, size)
	return obj, nil
}

func (vm *VM) checkArrayIndex(arr *object.Object, index int) error {
	if err := vm.Check(arr, "array"); err != nil {
		return err
	}
	if arr.Kind != object.KindArray {
		return object.Errorf(object.CodeInvalidArgument, "expected array, got %s", arr.Kind)
	}
	if index < 0 || index >= len(arr.Arr) {
		return object.Errorf(object.CodeInvalidArgument, "index %d out of bounds for length %d", index, len(arr.Arr))
	}
	return nil
}

// ArraySet stores value at index. Reachability is decided at collection
// time, so no bookkeeping happens here.
func (vm *VM) ArraySet(arr *object.Object, index int, value *object.Object) error {
	if err := vm.checkArrayIndex(arr, index); err != nil {
		return err
	}
	if err := vm.Check(value, "value"); err != nil {
		return err
	}
	arr.Arr[index] = value
	return nil
}

// ArrayGet returns the object at index, or nil for an empty slot.
func (vm *VM) ArrayGet(arr *object.Object, index int) (*object.Object, error) {
	if err := vm.checkArrayIndex(arr, index); err != nil {
		return nil, err
	}
	return arr.Arr[index], nil
}

// Add returns a new registered object combining a and b. The result is
// unrooted: reference it from a frame before the next collection to keep it.
func (vm *VM) Add(a, b *object.Object) (*object.Object, error) {
	return object.Add(vm, a, b)
}

// Discard is a no-op: an unrooted object is reclaimed by the next collection.
func (vm *VM) Discard(*object.Object) {}
