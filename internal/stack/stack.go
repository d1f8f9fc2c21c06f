// Package stack provides the growable LIFO container shared by the VM's frame
// stack, object registry, gray worklist and debug sidecar.
//
// Growth is explicit amortized doubling from the requested initial capacity so
// that capacities stay predictable (8 → 16 → 32 ...) and observable through Cap.
package stack

import "fmt"

// Stack is a LIFO of T backed by a slice whose capacity doubles on overflow.
// The zero value is an empty stack with capacity 0.
type Stack[T any] struct {
	data  []T
	count int
}

// New creates an empty stack with the given initial capacity.
// A negative capacity is treated as 0.
func New[T any](capacity int) *Stack[T] {
	if capacity < 0 {
		capacity = 0
	}
	return &Stack[T]{data: make([]T, capacity)}
}

// Push appends v, doubling the backing storage when full.
// Growth overflow is the only unrecoverable condition and panics.
func (s *Stack[T]) Push(v T) {
	if s.count == len(s.data) {
		s.grow()
	}
	s.data[s.count] = v
	s.count++
}

func (s *Stack[T]) grow() {
	newCap := len(s.data) * 2
	if newCap == 0 {
		newCap = 1
	}
	if newCap <= len(s.data) {
		panic(fmt.Sprintf("stack: capacity overflow growing from %d", len(s.data)))
	}
	data := make([]T, newCap)
	copy(data, s.data[:s.count])
	s.data = data
}

// Pop removes and returns the top element. ok is false when the stack is empty.
func (s *Stack[T]) Pop() (v T, ok bool) {
	if s == nil || s.count == 0 {
		return v, false
	}
	s.count--
	v = s.data[s.count]
	var zero T
	s.data[s.count] = zero
	return v, true
}

// Peek returns the top element without removing it.
func (s *Stack[T]) Peek() (v T, ok bool) {
	if s == nil || s.count == 0 {
		return v, false
	}
	return s.data[s.count-1], true
}

// Len returns the number of elements.
func (s *Stack[T]) Len() int {
	if s == nil {
		return 0
	}
	return s.count
}

// Cap returns the capacity of the backing storage.
func (s *Stack[T]) Cap() int {
	if s == nil {
		return 0
	}
	return len(s.data)
}

// At returns the element at index i, counted from the bottom.
func (s *Stack[T]) At(i int) T {
	if i < 0 || i >= s.count {
		panic(fmt.Sprintf("stack: index %d out of bounds for length %d", i, s.count))
	}
	return s.data[i]
}

// Set overwrites the element at index i.
func (s *Stack[T]) Set(i int, v T) {
	if i < 0 || i >= s.count {
		panic(fmt.Sprintf("stack: index %d out of bounds for length %d", i, s.count))
	}
	s.data[i] = v
}

// Truncate drops every element at index n and above. Capacity is kept.
func (s *Stack[T]) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= s.count {
		return
	}
	var zero T
	for i := n; i < s.count; i++ {
		s.data[i] = zero
	}
	s.count = n
}

// Free releases the backing storage. Contained values are not touched;
// a freed stack behaves as an empty stack of capacity 0.
func (s *Stack[T]) Free() {
	if s == nil {
		return
	}
	s.data = nil
	s.count = 0
}
