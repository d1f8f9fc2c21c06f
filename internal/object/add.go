package object

// Allocator is the allocation surface shared by both strategies. Add uses it
// to build results without knowing which discipline owns them.
type Allocator interface {
	// Check validates that obj may be read by this allocator.
	Check(obj *Object, what string) error
	NewInteger(v int32) (*Object, error)
	NewFloat(v float32) (*Object, error)
	// NewStringBuffer adopts buf as the string's owned buffer.
	NewStringBuffer(buf []byte) (*Object, error)
	NewVector3(x, y, z *Object) (*Object, error)
	NewArray(size int) (*Object, error)
	ArraySet(arr *Object, index int, value *Object) error
	// Discard gives up the caller's ownership of an intermediate result.
	Discard(obj *Object)
}

// Add produces a new object from a and b according to the type-pair rules.
// Neither operand is mutated and the caller's ownership of them is unchanged.
// On failure every intermediate object created so far has been discarded.
func Add(alloc Allocator, a, b *Object) (*Object, error) {
	if err := alloc.Check(a, "left operand"); err != nil {
		return nil, err
	}
	if err := alloc.Check(b, "right operand"); err != nil {
		return nil, err
	}

	switch a.Kind {
	case KindInteger:
		switch b.Kind {
		case KindInteger:
			return alloc.NewInteger(a.Int + b.Int)
		case KindFloat:
			return alloc.NewFloat(float32(a.Int) + b.Float)
		}
	case KindFloat:
		switch b.Kind {
		case KindInteger:
			return alloc.NewFloat(a.Float + float32(b.Int))
		case KindFloat:
			return alloc.NewFloat(a.Float + b.Float)
		}
	case KindString:
		if b.Kind == KindString {
			// Fresh destination: a and b may be the same object.
			buf := make([]byte, len(a.Str)+len(b.Str))
			n := copy(buf, a.Str)
			copy(buf[n:], b.Str)
			return alloc.NewStringBuffer(buf)
		}
	case KindVector3:
		if b.Kind == KindVector3 {
			return addVector3(alloc, a, b)
		}
	case KindArray:
		if b.Kind == KindArray {
			return concatArrays(alloc, a, b)
		}
	}
	return nil, Errorf(CodeInvalidArgument, "cannot add %s and %s", a.Kind, b.Kind)
}

func addVector3(alloc Allocator, a, b *Object) (*Object, error) {
	left, right := a.Vec.Components(), b.Vec.Components()
	var parts [3]*Object
	for i := range parts {
		p, err := Add(alloc, left[i], right[i])
		if err != nil {
			discardAll(alloc, parts[:i])
			return nil, err
		}
		parts[i] = p
	}
	v, err := alloc.NewVector3(parts[0], parts[1], parts[2])
	// The vector now co-owns its parts; drop the construction references.
	discardAll(alloc, parts[:])
	if err != nil {
		return nil, err
	}
	return v, nil
}

func concatArrays(alloc Allocator, a, b *Object) (*Object, error) {
	offset := len(a.Arr)
	out, err := alloc.NewArray(offset + len(b.Arr))
	if err != nil {
		return nil, err
	}
	for i, el := range a.Arr {
		if el == nil {
			continue
		}
		if err := alloc.ArraySet(out, i, el); err != nil {
			alloc.Discard(out)
			return nil, err
		}
	}
	for i, el := range b.Arr {
		if el == nil {
			continue
		}
		if err := alloc.ArraySet(out, offset+i, el); err != nil {
			alloc.Discard(out)
			return nil, err
		}
	}
	return out, nil
}

func discardAll(alloc Allocator, objs []*Object) {
	for _, o := range objs {
		if o != nil {
			alloc.Discard(o)
		}
	}
}
