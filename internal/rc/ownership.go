package rc

import (
	"math"

	"heapkit/internal/object"
	"heapkit/internal/stack"
	"heapkit/internal/trace"
)

// AddReference records one more owner of obj. Invalid or foreign objects are
// ignored and reported to the tracer.
func (h *Heap) AddReference(obj *object.Object) {
	if err := h.Check(obj, "object"); err != nil {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.incref", "%v", err)
		return
	}
	if obj.RefCount == math.MaxUint32 {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.incref", "reference count overflow on %s#%d", obj.Kind, obj.ID)
		return
	}
	h.retain(obj)
}

// Release gives up one ownership of *ref. When the count reaches zero the
// object and every child whose count drops to zero with it are deallocated,
// *ref is set to nil and Release reports true.
func (h *Heap) Release(ref **object.Object) bool {
	if ref == nil || *ref == nil {
		return false
	}
	obj := *ref
	if err := h.Check(obj, "object"); err != nil {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.release", "%v", err)
		return false
	}
	if !h.release(obj) {
		return false
	}
	*ref = nil
	return true
}

// Free deallocates *ref immediately. It succeeds only when the caller is the
// sole owner; otherwise it reports an ownership violation and changes nothing.
// On success *ref is set to nil.
func (h *Heap) Free(ref **object.Object) error {
	if ref == nil || *ref == nil {
		return nil
	}
	obj := *ref
	if err := h.Check(obj, "object"); err != nil {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.free", "%v", err)
		return err
	}
	if obj.RefCount > 1 {
		trace.Errorf(h.tracer, trace.ScopeObject, "rc.free", "%s#%d has %d owners", obj.Kind, obj.ID, obj.RefCount)
		return object.Errorf(object.CodeOwnershipViolation, "cannot free %s#%d: it still has %d owners", obj.Kind, obj.ID, obj.RefCount)
	}
	obj.RefCount = 0
	h.decrs++
	h.destroy(obj)
	*ref = nil
	return nil
}

func (h *Heap) retain(obj *object.Object) {
	obj.RefCount++
	h.incrs++
}

// release drops one count and destroys obj at zero.
func (h *Heap) release(obj *object.Object) bool {
	if obj.RefCount == 0 {
		return false
	}
	obj.RefCount--
	h.decrs++
	if obj.RefCount > 0 {
		return false
	}
	h.destroy(obj)
	return true
}

// destroy deallocates root, whose count is already zero, together with every
// child that loses its last owner. It walks an explicit worklist so deeply
// nested graphs do not grow the goroutine stack.
func (h *Heap) destroy(root *object.Object) {
	pending := stack.New[*object.Object](8)
	pending.Push(root)
	for pending.Len() > 0 {
		obj, _ := pending.Pop()
		obj.Children(func(child *object.Object) {
			if !child.Alive || child.RefCount == 0 {
				return
			}
			child.RefCount--
			h.decrs++
			if child.RefCount == 0 {
				pending.Push(child)
			}
		})
		h.retire(obj)
	}
}
