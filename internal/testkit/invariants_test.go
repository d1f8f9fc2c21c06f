package testkit

import (
	"strings"
	"testing"

	"heapkit/internal/object"
	"heapkit/internal/rc"
	"heapkit/internal/vm"
)

func TestCheckRefCounts(t *testing.T) {
	h := rc.NewHeap(rc.Options{})
	x, _ := h.NewInteger(1)
	arr, _ := h.NewArray(2)
	if err := h.ArraySet(arr, 0, x); err != nil {
		t.Fatal(err)
	}
	if err := h.ArraySet(arr, 1, x); err != nil {
		t.Fatal(err)
	}
	handles := map[*object.Object]uint32{x: 1, arr: 1}
	if err := CheckRefCounts(h, handles); err != nil {
		t.Fatal(err)
	}

	// An untracked extra owner shows up as a count mismatch.
	h.AddReference(x)
	err := CheckRefCounts(h, handles)
	if err == nil || !strings.Contains(err.Error(), "rc=4, expected 3") {
		t.Fatalf("expected a count mismatch, got %v", err)
	}
	handles[x]++
	if err := CheckRefCounts(h, handles); err != nil {
		t.Fatal(err)
	}

	other := rc.NewHeap(rc.Options{})
	foreign, _ := other.NewInteger(2)
	handles[foreign] = 1
	if err := CheckRefCounts(h, handles); err == nil {
		t.Fatal("expected an unregistered object error")
	}
}

func TestCheckCollected(t *testing.T) {
	m := vm.New(false)
	defer m.Free()
	f, _ := m.NewFrame()
	a, _ := m.NewInteger(1)
	b, _ := m.NewInteger(2)
	arr, _ := m.NewArray(1)
	if err := m.ArraySet(arr, 0, a); err != nil {
		t.Fatal(err)
	}
	if err := f.Reference(arr); err != nil {
		t.Fatal(err)
	}
	_ = b

	if err := CheckCollected(m); err == nil {
		t.Fatal("unreachable objects before a collection must be reported")
	}
	m.CollectGarbage()
	if err := CheckCollected(m); err != nil {
		t.Fatal(err)
	}
	if got := len(Reachable(m)); got != 2 {
		t.Fatalf("reachable = %d, want 2", got)
	}
}
