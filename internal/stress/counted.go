package stress

import (
	"errors"
	"math/rand/v2"
	"strconv"

	"heapkit/internal/object"
	"heapkit/internal/rc"
	"heapkit/internal/testkit"
	"heapkit/internal/trace"
)

// countedRound holds the owning handles of one reference-counting round.
// Every handle is one counted reference. Arrays only ever receive objects
// with a smaller ID than their own, so the object graph stays acyclic and
// releasing every handle must empty the heap.
type countedRound struct {
	h       *rc.Heap
	rng     *rand.Rand
	handles []*object.Object
	tally   Tally
}

func runCounted(rng *rand.Rand, ops int, tracer trace.Tracer, p *progress) (Tally, error) {
	r := &countedRound{h: rc.NewHeap(rc.Options{Tracer: tracer}), rng: rng}
	r.tally.Rounds = 1
	err := r.run(ops, p)
	st := r.h.Stats()
	r.tally.Allocs, r.tally.Frees = st.Allocs, st.Frees
	return r.tally, err
}

func (r *countedRound) run(ops int, p *progress) error {
	for i := range ops {
		if err := r.step(); err != nil {
			return err
		}
		r.tally.Ops++
		if (i+1)%checkEvery == 0 {
			if err := r.check(); err != nil {
				return err
			}
		}
		if err := p.step(); err != nil {
			return err
		}
	}
	if err := r.check(); err != nil {
		return err
	}
	return r.drain()
}

func (r *countedRound) keep(obj *object.Object, err error) error {
	if err != nil {
		return err
	}
	r.handles = append(r.handles, obj)
	return nil
}

func (r *countedRound) pick() (int, *object.Object) {
	i := r.rng.IntN(len(r.handles))
	return i, r.handles[i]
}

func (r *countedRound) drop(i int) {
	last := len(r.handles) - 1
	r.handles[i] = r.handles[last]
	r.handles = r.handles[:last]
}

// numeric returns a numeric handle, allocating a fresh integer when the pool
// has none.
func (r *countedRound) numeric() (*object.Object, error) {
	for range 4 {
		if len(r.handles) == 0 {
			break
		}
		if _, obj := r.pick(); obj.Kind == object.KindInteger || obj.Kind == object.KindFloat {
			return obj, nil
		}
	}
	obj, err := r.h.NewInteger(r.rng.Int32N(1000) - 500)
	if err != nil {
		return nil, err
	}
	r.handles = append(r.handles, obj)
	return obj, nil
}

func (r *countedRound) step() error {
	if len(r.handles) < 2 {
		return r.newScalar()
	}
	switch n := r.rng.IntN(20); {
	case n < 5:
		return r.newScalar()
	case n < 7:
		return r.newVector()
	case n < 9:
		return r.keep(r.h.NewArray(r.rng.IntN(5)))
	case n < 12:
		return r.set()
	case n < 13:
		return r.get()
	case n < 15:
		return r.add()
	case n < 16:
		_, obj := r.pick()
		r.h.AddReference(obj)
		r.handles = append(r.handles, obj)
		return nil
	case n < 19:
		i, obj := r.pick()
		r.drop(i)
		ref := obj
		if r.h.Release(&ref) != !obj.Alive {
			return violation("release of %s#%d reported the wrong outcome", obj.Kind, obj.ID)
		}
		return nil
	default:
		return r.free()
	}
}

func (r *countedRound) newScalar() error {
	switch r.rng.IntN(3) {
	case 0:
		return r.keep(r.h.NewInteger(r.rng.Int32N(1000) - 500))
	case 1:
		return r.keep(r.h.NewFloat(float32(r.rng.NormFloat64())))
	default:
		return r.keep(r.h.NewString(strconv.Itoa(r.rng.IntN(100))))
	}
}

func (r *countedRound) newVector() error {
	var parts [3]*object.Object
	for i := range parts {
		c, err := r.numeric()
		if err != nil {
			return err
		}
		parts[i] = c
	}
	before := parts[0].RefCount
	v, err := r.h.NewVector3(parts[0], parts[1], parts[2])
	if err != nil {
		return err
	}
	if parts[0].RefCount <= before {
		return violation("vector did not retain its component %s#%d", parts[0].Kind, parts[0].ID)
	}
	r.handles = append(r.handles, v)
	return nil
}

func (r *countedRound) arrays() []*object.Object {
	var out []*object.Object
	for _, h := range r.handles {
		if h.Kind == object.KindArray && len(h.Arr) > 0 {
			out = append(out, h)
		}
	}
	return out
}

func (r *countedRound) set() error {
	arrays := r.arrays()
	if len(arrays) == 0 {
		return nil
	}
	arr := arrays[r.rng.IntN(len(arrays))]
	_, value := r.pick()
	if value.ID >= arr.ID {
		// Would allow a cycle; probe the bounds check instead.
		err := r.h.ArraySet(arr, len(arr.Arr), value)
		if !errors.Is(err, object.ErrInvalidArgument) {
			return violation("out of bounds set returned %v", err)
		}
		r.tally.Rejected++
		return nil
	}
	index := r.rng.IntN(len(arr.Arr))
	prev := arr.Arr[index]
	prevCount := uint32(0)
	if prev != nil {
		prevCount = prev.RefCount
	}
	valueCount := value.RefCount
	if err := r.h.ArraySet(arr, index, value); err != nil {
		return err
	}
	if arr.Arr[index] != value {
		return violation("array %d slot %d not updated", arr.ID, index)
	}
	switch {
	case prev == value:
		if value.RefCount != valueCount {
			return violation("self-assignment changed rc of %s#%d", value.Kind, value.ID)
		}
	case prev != nil && !prev.Alive:
		// prev died with the assignment and may have owned value.
	case value.RefCount != valueCount+1:
		return violation("set did not retain %s#%d", value.Kind, value.ID)
	case prev != nil && prev.RefCount != prevCount-1:
		return violation("set did not release %s#%d", prev.Kind, prev.ID)
	}
	return nil
}

func (r *countedRound) get() error {
	arrays := r.arrays()
	if len(arrays) == 0 {
		return nil
	}
	arr := arrays[r.rng.IntN(len(arrays))]
	index := r.rng.IntN(len(arr.Arr))
	got, err := r.h.ArrayGet(arr, index)
	if err != nil {
		return err
	}
	if got != arr.Arr[index] {
		return violation("get of array %d slot %d returned a different object", arr.ID, index)
	}
	return nil
}

func (r *countedRound) add() error {
	_, a := r.pick()
	_, b := r.pick()
	live := r.h.Live()
	sum, err := r.h.Add(a, b)
	if err != nil {
		if !errors.Is(err, object.ErrInvalidArgument) {
			return err
		}
		if r.h.Live() != live {
			return violation("failed add of %s and %s leaked %d objects", a.Kind, b.Kind, r.h.Live()-live)
		}
		r.tally.Rejected++
		return nil
	}
	if sum.RefCount != 1 {
		return violation("add result %s#%d has rc=%d", sum.Kind, sum.ID, sum.RefCount)
	}
	r.handles = append(r.handles, sum)
	return nil
}

func (r *countedRound) free() error {
	i, obj := r.pick()
	count := obj.RefCount
	ref := obj
	err := r.h.Free(&ref)
	if count > 1 {
		if !errors.Is(err, object.ErrOwnership) {
			return violation("free of shared %s#%d returned %v", obj.Kind, obj.ID, err)
		}
		if obj.RefCount != count || ref == nil {
			return violation("rejected free modified %s#%d", obj.Kind, obj.ID)
		}
		r.tally.Rejected++
		return nil
	}
	if err != nil {
		return err
	}
	if ref != nil || obj.Alive {
		return violation("free left %s#%d alive", obj.Kind, obj.ID)
	}
	r.drop(i)
	return nil
}

// check verifies that every live object's count equals its handles plus the
// references held by other live objects.
func (r *countedRound) check() error {
	r.tally.Checks++
	handles := make(map[*object.Object]uint32, len(r.handles))
	for _, h := range r.handles {
		handles[h]++
	}
	if err := testkit.CheckRefCounts(r.h, handles); err != nil {
		return violation("%v", err)
	}
	return nil
}

// drain releases every handle. With an acyclic graph nothing may survive.
func (r *countedRound) drain() error {
	for len(r.handles) > 0 {
		i := len(r.handles) - 1
		ref := r.handles[i]
		r.handles = r.handles[:i]
		r.h.Release(&ref)
	}
	if err := r.h.CheckLeaks(); err != nil {
		return violation("%v", err)
	}
	st := r.h.Stats()
	if st.Allocs != st.Frees {
		return violation("allocated %d objects but freed %d", st.Allocs, st.Frees)
	}
	if st.Allocs+st.Increments != st.Decrements {
		return violation("%d allocations and %d increments against %d decrements", st.Allocs, st.Increments, st.Decrements)
	}
	return nil
}
