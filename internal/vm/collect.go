package vm

import (
	"fmt"
	"strconv"

	"heapkit/internal/object"
	"heapkit/internal/observ"
	"heapkit/internal/stack"
	"heapkit/internal/trace"
)

// CollectStats describes one collection cycle.
type CollectStats struct {
	Cycle     uint64        `json:"cycle" msgpack:"cycle"`
	Roots     int           `json:"roots" msgpack:"roots"`
	Marked    int           `json:"marked" msgpack:"marked"`
	Traced    int           `json:"traced" msgpack:"traced"`
	Swept     int           `json:"swept" msgpack:"swept"`
	Survivors int           `json:"survivors" msgpack:"survivors"`
	Timings   observ.Report `json:"timings" msgpack:"timings"`
}

func (s CollectStats) String() string {
	return fmt.Sprintf("gc #%d: roots=%d marked=%d traced=%d swept=%d survivors=%d",
		s.Cycle, s.Roots, s.Marked, s.Traced, s.Swept, s.Survivors)
}

// CollectGarbage runs one synchronous mark, trace and sweep cycle.
// Every object reachable from a frame on the stack survives with its mark
// cleared; every other registered object is deallocated.
func (vm *VM) CollectGarbage() CollectStats {
	if vm.freed {
		trace.Errorf(vm.tracer, trace.ScopeCollect, "vm.collect", "vm has been freed")
		return CollectStats{}
	}
	vm.cycles++
	stats := CollectStats{Cycle: vm.cycles}
	span := trace.Begin(vm.tracer, trace.ScopeCollect, "vm.collect", 0)
	timer := observ.NewTimer()

	phase := func(name string, run func() string) {
		idx := timer.Begin(name)
		ps := trace.Begin(vm.tracer, trace.ScopePhase, "vm."+name, span.ID())
		note := run()
		ps.End(note)
		timer.End(idx, note)
	}

	phase("mark", func() string {
		stats.Roots, stats.Marked = vm.mark()
		return fmt.Sprintf("%d roots, %d marked", stats.Roots, stats.Marked)
	})
	phase("trace", func() string {
		stats.Traced = vm.propagate()
		return fmt.Sprintf("%d reached", stats.Traced)
	})
	phase("sweep", func() string {
		stats.Swept, stats.Survivors = vm.sweep()
		return fmt.Sprintf("%d swept, %d survivors", stats.Swept, stats.Survivors)
	})

	stats.Timings = timer.Report()
	span.WithExtra("swept", strconv.Itoa(stats.Swept)).
		WithExtra("survivors", strconv.Itoa(stats.Survivors)).
		End(fmt.Sprintf("cycle %d", stats.Cycle))
	return stats
}

// mark sets the mark on every root of every frame on the stack.
func (vm *VM) mark() (roots, marked int) {
	for i := 0; i < vm.frames.Len(); i++ {
		f := vm.frames.At(i)
		if f.freed {
			continue
		}
		for j := 0; j < f.roots.Len(); j++ {
			obj := f.roots.At(j)
			roots++
			if obj == nil || !obj.Alive || obj.Marked {
				continue
			}
			obj.Marked = true
			marked++
		}
	}
	return roots, marked
}

// propagate carries marks from every marked object to everything it
// references. Each object enters the gray worklist at most once, so cycles
// terminate.
func (vm *VM) propagate() int {
	gray := stack.New[*object.Object](defaultCapacity)
	defer gray.Free()
	for i := 0; i < vm.objects.Len(); i++ {
		if obj := vm.objects.At(i); obj.Marked {
			gray.Push(obj)
		}
	}
	reached := 0
	for {
		obj, ok := gray.Pop()
		if !ok {
			break
		}
		obj.Children(func(child *object.Object) {
			if child.Marked || !child.Alive {
				return
			}
			child.Marked = true
			reached++
			gray.Push(child)
		})
	}
	return reached
}

// sweep deallocates every unmarked object and compacts the registry in
// place, keeping survivors in registration order with their marks cleared.
// Deallocation is structural only: children are swept on their own merits.
func (vm *VM) sweep() (swept, survivors int) {
	n := vm.objects.Len()
	write := 0
	for read := 0; read < n; read++ {
		obj := vm.objects.At(read)
		if obj.Marked {
			obj.Marked = false
			if write != read {
				vm.objects.Set(write, obj)
			}
			write++
			continue
		}
		vm.retire(obj)
		swept++
	}
	vm.objects.Truncate(write)
	return swept, write
}

func (vm *VM) retire(obj *object.Object) {
	if vm.debug != nil {
		vm.debug.record(obj.ID)
	}
	trace.Point(vm.tracer, trace.ScopeObject, "vm.free", "%s#%d", obj.Kind, obj.ID)
	obj.Release()
	vm.frees++
}
