package scenario

import (
	"context"
	"errors"
	"fmt"

	"fortio.org/safecast"

	"heapkit/internal/config"
	"heapkit/internal/heapdump"
	"heapkit/internal/object"
	"heapkit/internal/rc"
	"heapkit/internal/trace"
	"heapkit/internal/vm"
)

// ErrWrongStrategy reports a step that the selected strategy cannot execute,
// such as a collection under reference counting.
var ErrWrongStrategy = errors.New("step not supported by this strategy")

// Options configures a Runner.
type Options struct {
	// Strategy overrides the scenario's strategy when non-zero.
	Strategy object.Strategy
	// Defaults apply when the scenario has no [vm] table.
	Defaults config.VMConfig
	// Tracer receives run and object events. When nil the tracer attached to
	// the context passed to Run is used.
	Tracer trace.Tracer
}

// Runner executes one scenario. A Runner is single use; Close releases the
// VM it created.
type Runner struct {
	file     *File
	strategy object.Strategy
	defaults config.VMConfig
	tracer   trace.Tracer

	heap *rc.Heap
	vm   *vm.VM

	// bindings maps names to handles; a handle is nil once freed.
	bindings map[string]*object.Object
	// last remembers the most recent object bound to each name.
	last   map[string]*object.Object
	popped []*vm.Frame
	ran    bool
}

// NewRunner prepares a runner for f.
func NewRunner(f *File, opts Options) (*Runner, error) {
	if f == nil {
		return nil, errors.New("scenario: nil file")
	}
	strategy := opts.Strategy
	if strategy == 0 {
		var ok bool
		if strategy, ok = object.ParseStrategy(f.Strategy); !ok {
			return nil, fmt.Errorf("scenario %s: unknown strategy %q", f.Name, f.Strategy)
		}
	}
	return &Runner{
		file:     f,
		strategy: strategy,
		defaults: opts.Defaults,
		tracer:   opts.Tracer,
		bindings: make(map[string]*object.Object),
		last:     make(map[string]*object.Object),
	}, nil
}

// Strategy returns the strategy the scenario runs under.
func (r *Runner) Strategy() object.Strategy { return r.strategy }

// Heap returns the reference-counted heap, or nil under tracing.
func (r *Runner) Heap() *rc.Heap { return r.heap }

// VM returns the tracing VM, or nil under reference counting.
func (r *Runner) VM() *vm.VM { return r.vm }

func (r *Runner) start(ctx context.Context) {
	if r.tracer == nil {
		r.tracer = trace.FromContext(ctx)
	}
	settings := r.defaults
	if r.file.vmDefined {
		settings = r.file.VM
	}
	if r.strategy == object.Counted {
		r.heap = rc.NewHeap(rc.Options{Limit: settings.Limit, Tracer: r.tracer})
		return
	}
	r.vm = vm.NewWithOptions(vm.Options{
		Debug:           settings.Debug,
		Limit:           settings.Limit,
		InitialCapacity: settings.InitialCapacity,
		Tracer:          r.tracer,
	})
}

// Run executes every step in order. Step failures are recorded in the report;
// the returned error is reserved for cancellation and misuse.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.ran {
		return nil, errors.New("scenario: runner already used")
	}
	r.ran = true
	r.start(ctx)

	ctx, span := trace.Start(ctx, r.tracer, trace.ScopeRun, "scenario")
	report := &Report{Scenario: r.file.Name, Strategy: r.strategy.String()}
	var prevErr error
	for i := range r.file.Steps {
		if err := ctx.Err(); err != nil {
			span.End("cancelled")
			return report, err
		}
		step := &r.file.Steps[i]
		out := Outcome{Index: i + 1, Op: step.Op}
		if step.Op == OpExpectError {
			out.Detail, out.Err = r.expectError(step, prevErr, report)
		} else if step.Op.IsExpectation() {
			out.Detail, out.Err = r.expect(step)
		} else {
			out.Detail, out.Err = r.exec(step, report)
		}
		if out.Err != nil && !step.Op.IsExpectation() {
			trace.Point(r.tracer, trace.ScopeRun, "scenario.step", "step %d %s: %v", out.Index, step.Op, out.Err)
		}
		prevErr = out.Err
		if step.Op.IsExpectation() {
			prevErr = nil
		}
		report.Steps = append(report.Steps, out)
	}
	report.Live = r.live()
	report.finish()
	span.WithExtra("failures", fmt.Sprint(report.Failures)).End(report.Result())
	return report, nil
}

// Snapshot captures the current heap or VM.
func (r *Runner) Snapshot() (*heapdump.Snapshot, error) {
	switch {
	case r.heap != nil:
		return heapdump.FromHeap(r.heap, r.file.Name)
	case r.vm != nil:
		return heapdump.FromVM(r.vm, r.file.Name)
	default:
		return nil, errors.New("scenario: not started")
	}
}

// Close releases the VM and any popped frames.
func (r *Runner) Close() {
	for _, f := range r.popped {
		f.Free()
	}
	r.popped = nil
	if r.vm != nil {
		r.vm.Free()
	}
}

func (r *Runner) live() int {
	if r.heap != nil {
		return r.heap.Live()
	}
	return r.vm.Len()
}

func (r *Runner) alloc() object.Allocator {
	if r.heap != nil {
		return r.heap
	}
	return r.vm
}

func (r *Runner) lookup(name string) (*object.Object, error) {
	obj, ok := r.bindings[name]
	if !ok {
		return nil, object.Errorf(object.CodeInvalidArgument, "unknown binding %q", name)
	}
	return obj, nil
}

func (r *Runner) bind(name string, obj *object.Object) {
	r.bindings[name] = obj
	if obj != nil {
		r.last[name] = obj
	}
}

func (r *Runner) requireTracing(op Op) error {
	if r.vm == nil {
		return fmt.Errorf("%s: %w", op, ErrWrongStrategy)
	}
	return nil
}

func (r *Runner) requireCounting(op Op) error {
	if r.heap == nil {
		return fmt.Errorf("%s: %w", op, ErrWrongStrategy)
	}
	return nil
}

func (r *Runner) topFrame() (*vm.Frame, error) {
	frames := r.vm.Frames()
	if len(frames) == 0 {
		return nil, object.Errorf(object.CodeInvalidArgument, "no frame on the stack")
	}
	return frames[len(frames)-1], nil
}

func (r *Runner) exec(s *Step, report *Report) (string, error) {
	switch s.Op {
	case OpFrame:
		if err := r.requireTracing(s.Op); err != nil {
			return "", err
		}
		if _, err := r.vm.NewFrame(); err != nil {
			return "", err
		}
		return fmt.Sprintf("depth %d", r.vm.FrameDepth()), nil

	case OpPop:
		if err := r.requireTracing(s.Op); err != nil {
			return "", err
		}
		f := r.vm.PopFrame()
		if f == nil {
			return "", object.Errorf(object.CodeInvalidArgument, "frame stack is empty")
		}
		r.popped = append(r.popped, f)
		return fmt.Sprintf("depth %d", r.vm.FrameDepth()), nil

	case OpNew:
		obj, err := r.newObject(s)
		if err != nil {
			return "", err
		}
		r.bind(s.Name, obj)
		if s.Root {
			if err := r.rootObject(obj); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s = %s", s.Name, object.Format(obj)), nil

	case OpSet:
		arr, err := r.lookup(s.Target)
		if err != nil {
			return "", err
		}
		val, err := r.lookup(s.Value)
		if err != nil {
			return "", err
		}
		idx, err := safecast.Conv[int](s.Index)
		if err != nil {
			return "", object.Errorf(object.CodeInvalidArgument, "index %d: %v", s.Index, err)
		}
		if err := r.alloc().ArraySet(arr, idx, val); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s[%d] = %s", s.Target, idx, s.Value), nil

	case OpGet:
		arr, err := r.lookup(s.Target)
		if err != nil {
			return "", err
		}
		idx, err := safecast.Conv[int](s.Index)
		if err != nil {
			return "", object.Errorf(object.CodeInvalidArgument, "index %d: %v", s.Index, err)
		}
		var got *object.Object
		if r.heap != nil {
			got, err = r.heap.ArrayGet(arr, idx)
		} else {
			got, err = r.vm.ArrayGet(arr, idx)
		}
		if err != nil {
			return "", err
		}
		r.bind(s.Name, got)
		return fmt.Sprintf("%s = %s[%d] (borrowed)", s.Name, s.Target, idx), nil

	case OpAdd:
		a, err := r.lookup(s.Args[0])
		if err != nil {
			return "", err
		}
		b, err := r.lookup(s.Args[1])
		if err != nil {
			return "", err
		}
		sum, err := object.Add(r.alloc(), a, b)
		if err != nil {
			return "", err
		}
		r.bind(s.Name, sum)
		if s.Root {
			if err := r.rootObject(sum); err != nil {
				return "", err
			}
		}
		return fmt.Sprintf("%s = %s", s.Name, object.Format(sum)), nil

	case OpRoot:
		if err := r.requireTracing(s.Op); err != nil {
			return "", err
		}
		obj, err := r.lookup(s.Name)
		if err != nil {
			return "", err
		}
		return "rooted " + s.Name, r.rootObject(obj)

	case OpRetain:
		if err := r.requireCounting(s.Op); err != nil {
			return "", err
		}
		obj, err := r.lookup(s.Name)
		if err != nil {
			return "", err
		}
		if err := r.heap.Check(obj, s.Name); err != nil {
			return "", err
		}
		r.heap.AddReference(obj)
		return fmt.Sprintf("%s rc=%d", s.Name, obj.RefCount), nil

	case OpRelease:
		if err := r.requireCounting(s.Op); err != nil {
			return "", err
		}
		obj, err := r.lookup(s.Name)
		if err != nil {
			return "", err
		}
		if err := r.heap.Check(obj, s.Name); err != nil {
			return "", err
		}
		if r.heap.Release(&obj) {
			r.bindings[s.Name] = nil
			return s.Name + " freed", nil
		}
		return fmt.Sprintf("%s rc=%d", s.Name, obj.RefCount), nil

	case OpFree:
		if err := r.requireCounting(s.Op); err != nil {
			return "", err
		}
		obj, err := r.lookup(s.Name)
		if err != nil {
			return "", err
		}
		if obj == nil {
			return s.Name + " already nil", nil
		}
		if err := r.heap.Free(&obj); err != nil {
			return "", err
		}
		r.bindings[s.Name] = nil
		return s.Name + " freed", nil

	case OpCollect:
		if err := r.requireTracing(s.Op); err != nil {
			return "", err
		}
		stats := r.vm.CollectGarbage()
		report.Collections = append(report.Collections, stats)
		return stats.String(), nil
	}
	return "", fmt.Errorf("unknown op %q", s.Op)
}

func (r *Runner) newObject(s *Step) (*object.Object, error) {
	kind, _ := object.ParseKind(s.Kind)
	alloc := r.alloc()
	switch kind {
	case object.KindInteger:
		v, err := safecast.Conv[int32](*s.Int)
		if err != nil {
			return nil, object.Errorf(object.CodeInvalidArgument, "integer %d out of range: %v", *s.Int, err)
		}
		return alloc.NewInteger(v)
	case object.KindFloat:
		return alloc.NewFloat(float32(*s.Float))
	case object.KindString:
		return alloc.NewStringBuffer([]byte(*s.Str))
	case object.KindVector3:
		var parts [3]*object.Object
		for i, name := range s.Args {
			obj, err := r.lookup(name)
			if err != nil {
				return nil, err
			}
			parts[i] = obj
		}
		return alloc.NewVector3(parts[0], parts[1], parts[2])
	default:
		size, err := safecast.Conv[int](*s.Size)
		if err != nil {
			return nil, object.Errorf(object.CodeInvalidArgument, "array size %d: %v", *s.Size, err)
		}
		return alloc.NewArray(size)
	}
}

func (r *Runner) rootObject(obj *object.Object) error {
	if err := r.requireTracing(OpRoot); err != nil {
		return err
	}
	f, err := r.topFrame()
	if err != nil {
		return err
	}
	return f.Reference(obj)
}
