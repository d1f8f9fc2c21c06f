package rc

import (
	"heapkit/internal/object"
)

var _ object.Allocator = (*Heap)(nil)

// NewInteger allocates an integer with a count of one.
func (h *Heap) NewInteger(v int32) (*object.Object, error) {
	obj, err := h.alloc(object.KindInteger)
	if err != nil {
		return nil, err
	}
	obj.Int = v
	return obj, nil
}

// NewFloat allocates a float with a count of one.
func (h *Heap) NewFloat(v float32) (*object.Object, error) {
	obj, err := h.alloc(object.KindFloat)
	if err != nil {
		return nil, err
	}
	obj.Float = v
	return obj, nil
}

// NewString allocates a string holding a private copy of s.
func (h *Heap) NewString(s string) (*object.Object, error) {
	return h.NewStringBuffer([]byte(s))
}

// NewStringBuffer allocates a string that adopts buf as its owned buffer.
func (h *Heap) NewStringBuffer(buf []byte) (*object.Object, error) {
	obj, err := h.alloc(object.KindString)
	if err != nil {
		return nil, err
	}
	obj.Str = buf
	return obj, nil
}

// NewVector3 allocates a vector that co-owns x, y and z: each component
// gains one count.
func (h *Heap) NewVector3(x, y, z *object.Object) (*object.Object, error) {
	for _, c := range [...]struct {
		obj  *object.Object
		what string
	}{{x, "x component"}, {y, "y component"}, {z, "z component"}} {
		if err := h.Check(c.obj, c.what); err != nil {
			return nil, err
		}
	}
	obj, err := h.alloc(object.KindVector3)
	if err != nil {
		return nil, err
	}
	obj.Vec = object.Vector3{X: x, Y: y, Z: z}
	h.retain(x)
	h.retain(y)
	h.retain(z)
	return obj, nil
}

// NewArray allocates an array of size empty slots.
func (h *Heap) NewArray(size int) (*object.Object, error) {
	if size < 0 {
		return nil, object.Errorf(object.CodeInvalidArgument, "negative array size %d", size)
	}
	obj, err := h.alloc(object.KindArray)
	if err != nil {
		return nil, err
	}
	obj.Arr = make([]*object.Object, size)
	return obj, nil
}

func (h *Heap) checkArrayIndex(arr *object.Object, index int) error {
	if err := h.Check(arr, "array"); err != nil {
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

// ArraySet stores value at index. The array takes one count on value and
// drops its count on the previous occupant, in that order, so storing an
// object into the slot it already occupies is safe. Nothing changes on error.
func (h *Heap) ArraySet(arr *object.Object, index int, value *object.Object) error {
	if err := h.checkArrayIndex(arr, index); err != nil {
		return err
	}
	if err := h.Check(value, "value"); err != nil {
		return err
	}
	h.retain(value)
	prev := arr.Arr[index]
	arr.Arr[index] = value
	if prev != nil {
		h.release(prev)
	}
	return nil
}

// ArrayGet returns the object at index as a borrowed reference: its count is
// unchanged. Callers that keep it must call AddReference. An empty slot
// yields nil without error.
func (h *Heap) ArrayGet(arr *object.Object, index int) (*object.Object, error) {
	if err := h.checkArrayIndex(arr, index); err != nil {
		return nil, err
	}
	return arr.Arr[index], nil
}

// Add returns a new object combining a and b. The caller owns the result
// and keeps exactly the ownership of a and b it had before the call.
func (h *Heap) Add(a, b *object.Object) (*object.Object, error) {
	return object.Add(h, a, b)
}

// Discard drops one count on obj, freeing it at zero.
func (h *Heap) Discard(obj *object.Object) {
	h.Release(&obj)
}
