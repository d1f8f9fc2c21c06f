package stress

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"heapkit/internal/object"
	"heapkit/internal/trace"
)

func TestStrategies(t *testing.T) {
	tests := []struct {
		in   string
		want []object.Strategy
	}{
		{"both", []object.Strategy{object.Counted, object.Traced}},
		{"", []object.Strategy{object.Counted, object.Traced}},
		{"refcount", []object.Strategy{object.Counted}},
		{"gc", []object.Strategy{object.Traced}},
	}
	for _, tt := range tests {
		got, err := Strategies(tt.in)
		if err != nil {
			t.Fatalf("Strategies(%q): %v", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Strategies(%q) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
	if _, err := Strategies("arena"); err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
}

func TestCountedRoundKeepsInvariants(t *testing.T) {
	for seed := range uint64(4) {
		rng := rand.New(rand.NewPCG(seed, 0))
		tally, err := runCounted(rng, 3000, nil, &progress{ctx: context.Background()})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if tally.Ops != 3000 || tally.Allocs == 0 || tally.Allocs != tally.Frees {
			t.Fatalf("seed %d: unexpected tally %+v", seed, tally)
		}
		if tally.Checks < 3000/checkEvery {
			t.Fatalf("seed %d: only %d checks", seed, tally.Checks)
		}
	}
}

func TestTracedRoundKeepsInvariants(t *testing.T) {
	for seed := range uint64(4) {
		rng := rand.New(rand.NewPCG(seed, 1))
		tally, err := runTraced(rng, 3000, nil, &progress{ctx: context.Background()})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		if tally.Collections < 3000/checkEvery || tally.Swept == 0 {
			t.Fatalf("seed %d: unexpected tally %+v", seed, tally)
		}
		if tally.Allocs != tally.Frees {
			t.Fatalf("seed %d: %d allocs, %d frees", seed, tally.Allocs, tally.Frees)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	opts := Options{Workers: 3, Rounds: 6, Ops: 500, Seed: 42, Strategy: "both"}
	first, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	opts.Workers = 1
	second, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Total(), second.Total()); diff != "" {
		t.Fatalf("same seed, different totals (-first +second):\n%s", diff)
	}
	if first.RefCount.Rounds != 3 || first.Tracing.Rounds != 3 {
		t.Fatalf("rounds split %d/%d", first.RefCount.Rounds, first.Tracing.Rounds)
	}
}

func TestRunReportsProgress(t *testing.T) {
	events := make(chan Event)
	var (
		wg   sync.WaitGroup
		done = map[int]Event{}
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			if ev.Done {
				done[ev.Round] = ev
			}
		}
	}()
	_, err := Run(context.Background(), Options{Workers: 2, Rounds: 4, Ops: 300, Seed: 7, Strategy: "tracing", Events: events})
	close(events)
	wg.Wait()
	if err != nil {
		t.Fatal(err)
	}
	if len(done) != 4 {
		t.Fatalf("expected 4 finished rounds, got %d", len(done))
	}
	for round, ev := range done {
		if ev.Strategy != object.Traced || ev.Ops != 300 || ev.Err != nil {
			t.Fatalf("round %d: unexpected event %+v", round, ev)
		}
		if ev.Worker < 0 || ev.Worker > 1 {
			t.Fatalf("round %d ran on worker %d", round, ev.Worker)
		}
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, Options{Workers: 2, Rounds: 10, Ops: 1000, Strategy: "refcount"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestRunRejectsBadOptions(t *testing.T) {
	if _, err := Run(context.Background(), Options{Rounds: 1, Strategy: "arena"}); err == nil {
		t.Fatal("expected an unknown strategy error")
	}
	if _, err := Run(context.Background(), Options{Rounds: -1}); err == nil {
		t.Fatal("expected a negative rounds error")
	}
}

func TestRunEmitsSpan(t *testing.T) {
	ring := trace.NewRingTracer(64, trace.LevelPhase)
	ctx := trace.WithTracer(context.Background(), ring)
	if _, err := Run(ctx, Options{Workers: 1, Rounds: 2, Ops: 100, Strategy: "both"}); err != nil {
		t.Fatal(err)
	}
	events := ring.Snapshot()
	last := events[len(events)-1]
	if last.Kind != trace.KindSpanEnd || last.Name != "stress" {
		t.Fatalf("expected the stress span to end last, got %s %s", last.Kind, last.Name)
	}
	for _, ev := range events {
		if ev.Kind == trace.KindError && ev.Name == "stress.round" {
			t.Fatalf("unexpected round error %q", ev.Detail)
		}
	}
}
