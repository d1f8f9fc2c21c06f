package object

import "sync/atomic"

// Kind identifies the kind of an object.
type Kind uint8

const (
	KindInteger Kind = iota
	KindFloat
	KindString
	KindVector3
	KindArray
)

// String returns the lowercase kind label.
func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindVector3:
		return "vector3"
	case KindArray:
		return "array"
	default:
		return "object"
	}
}

// ParseKind converts a kind label back to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "integer", "int":
		return KindInteger, true
	case "float":
		return KindFloat, true
	case "string", "str":
		return KindString, true
	case "vector3", "vec3":
		return KindVector3, true
	case "array":
		return KindArray, true
	default:
		return 0, false
	}
}

// Strategy is the ownership discipline an object lives under.
// It is fixed at allocation and never changes.
type Strategy uint8

const (
	// Counted objects are owned by reference counts (package rc).
	Counted Strategy = iota + 1
	// Traced objects are owned by a VM arena and reclaimed by collection (package vm).
	Traced
)

func (s Strategy) String() string {
	switch s {
	case Counted:
		return "refcount"
	case Traced:
		return "tracing"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy label back to a Strategy.
func ParseStrategy(s string) (Strategy, bool) {
	switch s {
	case "refcount", "rc", "counted":
		return Counted, true
	case "tracing", "gc", "traced", "mark-sweep":
		return Traced, true
	default:
		return 0, false
	}
}

// Vector3 holds the three component references of a vector object.
type Vector3 struct {
	X, Y, Z *Object
}

// Components returns the components in x, y, z order.
func (v Vector3) Components() [3]*Object {
	return [3]*Object{v.X, v.Y, v.Z}
}

// Object is a heap object of either strategy.
//
// Only the field matching Kind carries a payload. RefCount is meaningful for
// Counted objects, Marked for Traced objects.
type Object struct {
	Kind     Kind
	Strategy Strategy
	Owner    uint64 // serial of the allocating heap or VM
	ID       uint64 // stable per-owner identity, never reused
	Alive    bool

	RefCount uint32
	Marked   bool

	Int   int32
	Float float32
	Str   []byte
	Vec   Vector3
	Arr   []*Object
}

var ownerSerial atomic.Uint64

// NextOwnerSerial returns a process-unique serial for a new heap or VM.
func NextOwnerSerial() uint64 {
	return ownerSerial.Add(1)
}

// Children calls fn for each non-nil child reference.
func (o *Object) Children(fn func(child *Object)) {
	if o == nil {
		return
	}
	switch o.Kind {
	case KindVector3:
		for _, c := range o.Vec.Components() {
			if c != nil {
				fn(c)
			}
		}
	case KindArray:
		for _, c := range o.Arr {
			if c != nil {
				fn(c)
			}
		}
	}
}

// Length returns the element count of obj: 1 for scalars, 3 for vectors,
// byte length for strings and declared size for arrays. It returns -1 for a
// nil or deallocated object.
func Length(obj *Object) int {
	if obj == nil || !obj.Alive {
		return -1
	}
	switch obj.Kind {
	case KindInteger, KindFloat:
		return 1
	case KindString:
		return len(obj.Str)
	case KindVector3:
		return 3
	case KindArray:
		return len(obj.Arr)
	default:
		return -1
	}
}

// Release drops the payload of obj and marks it dead. Child objects are not
// touched; callers own any recursive policy.
func (o *Object) Release() {
	o.Alive = false
	o.Marked = false
	o.RefCount = 0
	o.Str = nil
	o.Arr = nil
	o.Vec = Vector3{}
}
