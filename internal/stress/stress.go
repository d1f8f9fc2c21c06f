// Package stress drives randomized workloads against both memory strategies
// and checks their ownership invariants after every batch of operations.
//
// Each round owns a private rc.Heap or vm.VM, so rounds run in parallel
// without sharing any heap state.
package stress

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"heapkit/internal/object"
	"heapkit/internal/trace"
)

// ErrInvariant reports a broken ownership or reachability invariant.
var ErrInvariant = errors.New("invariant violated")

// checkEvery is the number of operations between full invariant checks.
const checkEvery = 128

// Options configures a stress run.
type Options struct {
	// Workers bounds the number of rounds running at once. Zero means GOMAXPROCS.
	Workers int
	Rounds  int
	// Ops is the number of random operations per round.
	Ops  int
	Seed uint64
	// Strategy is "refcount", "tracing" or "both". Both alternates per round.
	Strategy string
	Tracer   trace.Tracer
	// Events receives progress updates when non-nil. Run never closes it.
	Events chan<- Event
}

// Event reports the progress of one round.
type Event struct {
	Worker   int
	Round    int
	Strategy object.Strategy
	Ops      int
	Total    int
	Done     bool
	Err      error
}

// Tally accumulates counters for one strategy.
type Tally struct {
	Rounds      int
	Ops         uint64
	Allocs      uint64
	Frees       uint64
	Collections uint64
	Swept       uint64
	Checks      uint64
	// Rejected counts operations that failed with the expected error code.
	Rejected uint64
}

func (t *Tally) merge(o Tally) {
	t.Rounds += o.Rounds
	t.Ops += o.Ops
	t.Allocs += o.Allocs
	t.Frees += o.Frees
	t.Collections += o.Collections
	t.Swept += o.Swept
	t.Checks += o.Checks
	t.Rejected += o.Rejected
}

// Result summarizes a stress run.
type Result struct {
	RefCount Tally
	Tracing  Tally
	Duration time.Duration
}

// Total returns the combined tally of both strategies.
func (r *Result) Total() Tally {
	t := r.RefCount
	t.merge(r.Tracing)
	return t
}

// Summary returns a one-line description of the run.
func (r *Result) Summary() string {
	t := r.Total()
	return fmt.Sprintf("%d rounds, %d ops, %d allocs, %d frees, %d collections, %d checks in %s",
		t.Rounds, t.Ops, t.Allocs, t.Frees, t.Collections, t.Checks, r.Duration.Round(time.Millisecond))
}

// Strategies resolves a strategy option to the strategies it covers.
func Strategies(name string) ([]object.Strategy, error) {
	if name == "both" || name == "" {
		return []object.Strategy{object.Counted, object.Traced}, nil
	}
	s, ok := object.ParseStrategy(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (expected: refcount|tracing|both)", name)
	}
	return []object.Strategy{s}, nil
}

// StrategyFor returns the strategy round uses.
func StrategyFor(strategies []object.Strategy, round int) object.Strategy {
	return strategies[round%len(strategies)]
}

// Run executes opts.Rounds rounds on a bounded pool of workers. The first
// invariant violation cancels the remaining rounds and is returned together
// with the counters gathered so far.
func Run(ctx context.Context, opts Options) (*Result, error) {
	strategies, err := Strategies(opts.Strategy)
	if err != nil {
		return nil, err
	}
	if opts.Rounds < 0 || opts.Ops < 0 {
		return nil, fmt.Errorf("rounds and ops must not be negative")
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = max(1, min(workers, opts.Rounds))

	tracer := opts.Tracer
	if tracer == nil {
		tracer = trace.FromContext(ctx)
	}
	tracer = trace.OrNop(tracer)
	ctx, span := trace.Start(ctx, tracer, trace.ScopeRun, "stress")

	start := time.Now()
	result := &Result{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)
	g.Go(func() error {
		defer close(jobs)
		for round := range opts.Rounds {
			select {
			case jobs <- round:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := range workers {
		g.Go(func() error {
			for round := range jobs {
				strategy := StrategyFor(strategies, round)
				rng := rand.New(rand.NewPCG(opts.Seed, uint64(round)))
				p := &progress{ctx: gctx, events: opts.Events, ev: Event{
					Worker: w, Round: round, Strategy: strategy, Total: opts.Ops,
				}}
				var tally Tally
				var err error
				switch strategy {
				case object.Counted:
					tally, err = runCounted(rng, opts.Ops, tracer, p)
				default:
					tally, err = runTraced(rng, opts.Ops, tracer, p)
				}
				if err != nil {
					err = fmt.Errorf("round %d (%s): %w", round, strategy, err)
				}
				p.finish(err)

				mu.Lock()
				if strategy == object.Counted {
					result.RefCount.merge(tally)
				} else {
					result.Tracing.merge(tally)
				}
				mu.Unlock()
				if err != nil {
					trace.Errorf(tracer, trace.ScopeRun, "stress.round", "%v", err)
					return err
				}
			}
			return nil
		})
	}

	err = g.Wait()
	result.Duration = time.Since(start)
	if err != nil {
		span.End("failed")
		return result, err
	}
	span.End(result.Summary())
	return result, nil
}

type progress struct {
	ctx    context.Context
	events chan<- Event
	ev     Event
}

// step advances the op counter and reports progress every checkEvery ops.
// It returns the context error once the run is cancelled.
func (p *progress) step() error {
	p.ev.Ops++
	if p.ev.Ops%checkEvery != 0 {
		return nil
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}
	p.send(p.ev)
	return nil
}

func (p *progress) finish(err error) {
	ev := p.ev
	ev.Done = true
	ev.Err = err
	p.send(ev)
}

func (p *progress) send(ev Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
	}
}

func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}
