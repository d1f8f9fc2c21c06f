package scenario

import (
	"fmt"
	"strings"

	"heapkit/internal/observ"
	"heapkit/internal/vm"
)

// Outcome is the result of one step.
type Outcome struct {
	Index  int
	Op     Op
	Detail string
	Err    error
	// Expected is set when the following expect_error step matched Err.
	Expected bool
}

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool {
	return o.Err != nil && !o.Expected
}

// Report summarizes a scenario run.
type Report struct {
	Scenario    string
	Strategy    string
	Steps       []Outcome
	Collections []vm.CollectStats
	Live        int
	Failures    int
}

func (r *Report) finish() {
	r.Failures = 0
	for _, o := range r.Steps {
		if o.Failed() {
			r.Failures++
		}
	}
}

// OK reports whether every step succeeded or failed as expected.
func (r *Report) OK() bool {
	return r.Failures == 0
}

// Result returns "ok" or a failure count.
func (r *Report) Result() string {
	if r.OK() {
		return "ok"
	}
	return fmt.Sprintf("%d failed", r.Failures)
}

// Timings merges the phase timings of every collection.
func (r *Report) Timings() observ.Report {
	var total observ.Report
	for _, c := range r.Collections {
		total.Merge(c.Timings)
	}
	return total
}

// Summary returns a one-line description of the run.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]: %d steps, %s, %d live", r.Scenario, r.Strategy, len(r.Steps), r.Result(), r.Live)
	if len(r.Collections) > 0 {
		swept := 0
		for _, c := range r.Collections {
			swept += c.Swept
		}
		fmt.Fprintf(&b, ", %d collections swept %d", len(r.Collections), swept)
	}
	return b.String()
}
