package stack

import "testing"

func TestStackPushDoublesCapacity(t *testing.T) {
	s := New[int](8)
	if s.Cap() != 8 {
		t.Fatalf("expected capacity 8, got %d", s.Cap())
	}
	for i := 0; i < 9; i++ {
		s.Push(i)
	}
	if s.Cap() != 16 {
		t.Fatalf("expected capacity 16 after overflow, got %d", s.Cap())
	}
	for i := 9; i < 17; i++ {
		s.Push(i)
	}
	if s.Cap() != 32 {
		t.Fatalf("expected capacity 32, got %d", s.Cap())
	}
	if s.Len() != 17 {
		t.Fatalf("expected length 17, got %d", s.Len())
	}
}

func TestStackZeroCapacityGrows(t *testing.T) {
	s := New[string](0)
	s.Push("a")
	s.Push("b")
	if s.Len() != 2 || s.Cap() != 2 {
		t.Fatalf("expected len=2 cap=2, got len=%d cap=%d", s.Len(), s.Cap())
	}

	var zero Stack[string]
	zero.Push("x")
	if v, ok := zero.Pop(); !ok || v != "x" {
		t.Fatalf("expected x from zero-value stack, got %q ok=%v", v, ok)
	}
}

func TestStackPopIsLIFO(t *testing.T) {
	s := New[int](2)
	for i := 1; i <= 3; i++ {
		s.Push(i)
	}
	for want := 3; want >= 1; want-- {
		got, ok := s.Pop()
		if !ok || got != want {
			t.Fatalf("expected %d, got %d ok=%v", want, got, ok)
		}
	}
	if _, ok := s.Pop(); ok {
		t.Fatal("expected empty pop to report !ok")
	}
}

func TestStackPeekAtSetTruncate(t *testing.T) {
	s := New[int](4)
	for i := 0; i < 4; i++ {
		s.Push(i * 10)
	}
	if v, ok := s.Peek(); !ok || v != 30 {
		t.Fatalf("expected peek 30, got %d", v)
	}
	s.Set(1, 99)
	if s.At(1) != 99 {
		t.Fatalf("expected 99 at index 1, got %d", s.At(1))
	}
	s.Truncate(2)
	if s.Len() != 2 || s.Cap() != 4 {
		t.Fatalf("expected len=2 cap=4 after truncate, got len=%d cap=%d", s.Len(), s.Cap())
	}
	s.Truncate(10)
	if s.Len() != 2 {
		t.Fatalf("truncate beyond length must be a no-op, got len=%d", s.Len())
	}
}

func TestStackAtOutOfBoundsPanics(t *testing.T) {
	s := New[int](1)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic, got nil")
		}
	}()
	_ = s.At(0)
}

func TestStackFreeKeepsValues(t *testing.T) {
	type box struct{ n int }
	b := &box{n: 7}
	s := New[*box](1)
	s.Push(b)
	s.Free()
	if s.Len() != 0 || s.Cap() != 0 {
		t.Fatalf("expected empty stack after free, got len=%d cap=%d", s.Len(), s.Cap())
	}
	if b.n != 7 {
		t.Fatalf("free must not touch contained values")
	}
	var nilStack *Stack[int]
	nilStack.Free()
	if nilStack.Len() != 0 {
		t.Fatal("nil stack must report length 0")
	}
}
