package object

import (
	"errors"
	"testing"
)

// budgetAllocator is a minimal Allocator that refuses allocation once its
// budget is spent and remembers what was discarded.
type budgetAllocator struct {
	budget    int
	live      map[*Object]bool
	discarded []*Object
}

func newBudgetAllocator(budget int) *budgetAllocator {
	return &budgetAllocator{budget: budget, live: make(map[*Object]bool)}
}

func (a *budgetAllocator) alloc(kind Kind) (*Object, error) {
	if a.budget == 0 {
		return nil, Errorf(CodeAllocationFailure, "budget exhausted")
	}
	a.budget--
	o := &Object{Kind: kind, Alive: true}
	a.live[o] = true
	return o, nil
}

func (a *budgetAllocator) Check(obj *Object, what string) error {
	if obj == nil {
		return Errorf(CodeInvalidArgument, "%s is nil", what)
	}
	return nil
}

func (a *budgetAllocator) NewInteger(v int32) (*Object, error) {
	o, err := a.alloc(KindInteger)
	if err == nil {
		o.Int = v
	}
	return o, err
}

func (a *budgetAllocator) NewFloat(v float32) (*Object, error) {
	o, err := a.alloc(KindFloat)
	if err == nil {
		o.Float = v
	}
	return o, err
}

func (a *budgetAllocator) NewStringBuffer(buf []byte) (*Object, error) {
	o, err := a.alloc(KindString)
	if err == nil {
		o.Str = buf
	}
	return o, err
}

func (a *budgetAllocator) NewVector3(x, y, z *Object) (*Object, error) {
	o, err := a.alloc(KindVector3)
	if err == nil {
		o.Vec = Vector3{X: x, Y: y, Z: z}
	}
	return o, err
}

func (a *budgetAllocator) NewArray(size int) (*Object, error) {
	o, err := a.alloc(KindArray)
	if err == nil {
		o.Arr = make([]*Object, size)
	}
	return o, err
}

func (a *budgetAllocator) ArraySet(arr *Object, index int, value *Object) error {
	arr.Arr[index] = value
	return nil
}

func (a *budgetAllocator) Discard(obj *Object) {
	a.discarded = append(a.discarded, obj)
}

func scalar(v int32) *Object { return &Object{Kind: KindInteger, Alive: true, Int: v} }

func TestAddTypePairs(t *testing.T) {
	i := &Object{Kind: KindInteger, Alive: true, Int: 2}
	f := &Object{Kind: KindFloat, Alive: true, Float: 0.5}
	s := &Object{Kind: KindString, Alive: true, Str: []byte("ab")}

	tests := []struct {
		name string
		a, b *Object
		want string
		kind Kind
	}{
		{"int+int", i, i, "4", KindInteger},
		{"int+float", i, f, "2.5", KindFloat},
		{"float+int", f, i, "2.5", KindFloat},
		{"float+float", f, f, "1", KindFloat},
		{"string+string", s, s, `"abab"`, KindString},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Add(newBudgetAllocator(8), tt.a, tt.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Kind != tt.kind || Format(got) != tt.want {
				t.Fatalf("got %s %s, want %s %s", got.Kind, Format(got), tt.kind, tt.want)
			}
		})
	}
}

func TestAddUnsupportedPair(t *testing.T) {
	i := scalar(1)
	s := &Object{Kind: KindString, Alive: true, Str: []byte("x")}
	_, err := Add(newBudgetAllocator(8), i, s)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
}

func TestAddStringSelfDoesNotAlias(t *testing.T) {
	s := &Object{Kind: KindString, Alive: true, Str: []byte("(repeated)")}
	got, err := Add(newBudgetAllocator(1), s, s)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Str) != "(repeated)(repeated)" {
		t.Fatalf("got %q", got.Str)
	}
	got.Str[0] = 'X'
	if string(s.Str) != "(repeated)" {
		t.Fatalf("operand mutated: %q", s.Str)
	}
}

func TestAddVector3DiscardsPartialsOnFailure(t *testing.T) {
	a := &Object{Kind: KindVector3, Alive: true, Vec: Vector3{X: scalar(1), Y: scalar(2), Z: scalar(3)}}
	b := &Object{Kind: KindVector3, Alive: true, Vec: Vector3{X: scalar(4), Y: scalar(5), Z: scalar(6)}}

	// Two components succeed, the third allocation fails.
	alloc := newBudgetAllocator(2)
	if _, err := Add(alloc, a, b); !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if len(alloc.discarded) != 2 {
		t.Fatalf("expected 2 discarded partials, got %d", len(alloc.discarded))
	}

	// Components succeed, the vector allocation fails.
	alloc = newBudgetAllocator(3)
	if _, err := Add(alloc, a, b); !errors.Is(err, ErrAllocation) {
		t.Fatalf("expected allocation failure, got %v", err)
	}
	if len(alloc.discarded) != 3 {
		t.Fatalf("expected 3 discarded partials, got %d", len(alloc.discarded))
	}
}

func TestAddArrayConcatenates(t *testing.T) {
	one, two := scalar(1), scalar(2)
	a := &Object{Kind: KindArray, Alive: true, Arr: []*Object{one, nil}}
	b := &Object{Kind: KindArray, Alive: true, Arr: []*Object{two}}
	got, err := Add(newBudgetAllocator(1), a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Arr) != 3 || got.Arr[0] != one || got.Arr[1] != nil || got.Arr[2] != two {
		t.Fatalf("unexpected concatenation %s", Format(got))
	}
}
