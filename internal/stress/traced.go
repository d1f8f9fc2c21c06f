package stress

import (
	"errors"
	"math/rand/v2"
	"strconv"

	"heapkit/internal/object"
	"heapkit/internal/testkit"
	"heapkit/internal/trace"
	"heapkit/internal/vm"
)

const maxFrames = 8

// tracedRound drives one debug VM. known holds every object the round has
// allocated and not yet seen swept; dead entries are pruned after each
// collection.
type tracedRound struct {
	vm    *vm.VM
	rng   *rand.Rand
	known []*object.Object
	tally Tally
}

func runTraced(rng *rand.Rand, ops int, tracer trace.Tracer, p *progress) (Tally, error) {
	r := &tracedRound{vm: vm.NewWithOptions(vm.Options{Debug: true, Tracer: tracer}), rng: rng}
	r.tally.Rounds = 1
	err := r.run(ops, p)
	if err == nil {
		err = r.shutdown()
	} else {
		r.vm.Free()
	}
	st := r.vm.Stats()
	r.tally.Allocs, r.tally.Frees, r.tally.Collections = st.Allocs, st.Frees, st.Collections
	return r.tally, err
}

func (r *tracedRound) run(ops int, p *progress) error {
	if _, err := r.vm.NewFrame(); err != nil {
		return err
	}
	for i := range ops {
		if err := r.step(); err != nil {
			return err
		}
		r.tally.Ops++
		if (i+1)%checkEvery == 0 {
			if err := r.collect(); err != nil {
				return err
			}
		}
		if err := p.step(); err != nil {
			return err
		}
	}
	return r.collect()
}

func (r *tracedRound) top() *vm.Frame {
	frames := r.vm.Frames()
	return frames[len(frames)-1]
}

// pick returns a random known object that is still alive, or nil.
func (r *tracedRound) pick() *object.Object {
	for range 4 {
		if len(r.known) == 0 {
			return nil
		}
		if obj := r.known[r.rng.IntN(len(r.known))]; obj.Alive {
			return obj
		}
	}
	return nil
}

func (r *tracedRound) keep(obj *object.Object, err error) error {
	if err != nil {
		return err
	}
	r.known = append(r.known, obj)
	if r.rng.IntN(2) == 0 {
		return r.top().Reference(obj)
	}
	return nil
}

func (r *tracedRound) step() error {
	switch n := r.rng.IntN(20); {
	case n < 5 || len(r.known) < 2:
		return r.newScalar()
	case n < 7:
		return r.newVector()
	case n < 9:
		return r.keep(r.vm.NewArray(r.rng.IntN(5)))
	case n < 12:
		return r.set()
	case n < 14:
		return r.add()
	case n < 16:
		if obj := r.pick(); obj != nil {
			return r.top().Reference(obj)
		}
		return nil
	case n < 17:
		if r.vm.FrameDepth() < maxFrames {
			_, err := r.vm.NewFrame()
			return err
		}
		return nil
	case n < 18:
		if r.vm.FrameDepth() > 1 {
			r.vm.PopFrame().Free()
		}
		return nil
	case n < 19:
		return r.probeDead()
	default:
		return r.collect()
	}
}

func (r *tracedRound) newScalar() error {
	switch r.rng.IntN(3) {
	case 0:
		return r.keep(r.vm.NewInteger(r.rng.Int32N(1000) - 500))
	case 1:
		return r.keep(r.vm.NewFloat(float32(r.rng.NormFloat64())))
	default:
		return r.keep(r.vm.NewString(strconv.Itoa(r.rng.IntN(100))))
	}
}

func (r *tracedRound) newVector() error {
	var parts [3]*object.Object
	for i := range parts {
		obj := r.pick()
		if obj == nil || (obj.Kind != object.KindInteger && obj.Kind != object.KindFloat) {
			fresh, err := r.vm.NewFloat(float32(r.rng.IntN(10)))
			if err != nil {
				return err
			}
			r.known = append(r.known, fresh)
			obj = fresh
		}
		parts[i] = obj
	}
	return r.keep(r.vm.NewVector3(parts[0], parts[1], parts[2]))
}

func (r *tracedRound) set() error {
	arr := r.pick()
	value := r.pick()
	if arr == nil || value == nil || arr.Kind != object.KindArray || len(arr.Arr) == 0 {
		return nil
	}
	index := r.rng.IntN(len(arr.Arr))
	if err := r.vm.ArraySet(arr, index, value); err != nil {
		return err
	}
	got, err := r.vm.ArrayGet(arr, index)
	if err != nil {
		return err
	}
	if got != value {
		return violation("array %d slot %d not updated", arr.ID, index)
	}
	return nil
}

func (r *tracedRound) add() error {
	a, b := r.pick(), r.pick()
	if a == nil || b == nil {
		return nil
	}
	live := r.vm.Len()
	sum, err := r.vm.Add(a, b)
	if err != nil {
		if !errors.Is(err, object.ErrInvalidArgument) {
			return err
		}
		r.tally.Rejected++
		return nil
	}
	if r.vm.Len() <= live {
		return violation("add result %s#%d was not registered", sum.Kind, sum.ID)
	}
	return r.keep(sum, nil)
}

// probeDead uses a swept object and expects a use-after-free error.
func (r *tracedRound) probeDead() error {
	for _, obj := range r.known {
		if obj.Alive {
			continue
		}
		if _, err := r.vm.Add(obj, obj); !errors.Is(err, object.ErrUseAfterFree) {
			return violation("add of swept %s#%d returned %v", obj.Kind, obj.ID, err)
		}
		if err := r.top().Reference(obj); !errors.Is(err, object.ErrUseAfterFree) {
			return violation("rooting swept %s#%d returned %v", obj.Kind, obj.ID, err)
		}
		r.tally.Rejected += 2
		return nil
	}
	return nil
}

// collect runs a collection and checks that exactly the reachable objects
// survived, unmarked, and that every swept object is in the debug log.
func (r *tracedRound) collect() error {
	want := testkit.Reachable(r.vm)
	before := r.vm.Len()
	stats := r.vm.CollectGarbage()
	r.tally.Swept += uint64(stats.Swept)
	r.tally.Checks++

	if stats.Survivors != len(want) || r.vm.Len() != len(want) {
		return violation("%d survivors, %d reachable", stats.Survivors, len(want))
	}
	if stats.Swept+stats.Survivors != before {
		return violation("swept %d and kept %d of %d objects", stats.Swept, stats.Survivors, before)
	}
	if err := testkit.CheckCollected(r.vm); err != nil {
		return violation("%v", err)
	}
	kept := r.known[:0]
	for _, obj := range r.known {
		switch {
		case want[obj]:
			if !obj.Alive {
				return violation("reachable %s#%d was swept", obj.Kind, obj.ID)
			}
			kept = append(kept, obj)
		case obj.Alive:
			return violation("unreachable %s#%d is alive", obj.Kind, obj.ID)
		case !r.vm.DebugWasFreed(obj):
			return violation("swept %s#%d missing from the debug log", obj.Kind, obj.ID)
		default:
			// Keep a few dead objects around for probeDead.
			if r.rng.IntN(8) == 0 {
				kept = append(kept, obj)
			}
		}
	}
	r.known = kept
	return nil
}

// shutdown frees the VM and checks that nothing survives it.
func (r *tracedRound) shutdown() error {
	r.vm.Free()
	for _, obj := range r.known {
		if obj.Alive {
			return violation("%s#%d survived vm free", obj.Kind, obj.ID)
		}
	}
	if _, err := r.vm.NewInteger(0); !errors.Is(err, object.ErrUseAfterFree) {
		return violation("allocation after free returned %v", err)
	}
	if st := r.vm.CollectGarbage(); st.Cycle != 0 {
		return violation("collection ran on a freed vm")
	}
	st := r.vm.Stats()
	if st.Allocs != st.Frees {
		return violation("allocated %d objects but freed %d", st.Allocs, st.Frees)
	}
	return nil
}
