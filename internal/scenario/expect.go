package scenario

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"heapkit/internal/object"
)

// ErrExpectation reports a failed expect_* step.
var ErrExpectation = errors.New("expectation failed")

func failf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExpectation, fmt.Sprintf(format, args...))
}

// subject returns the object most recently bound to name, even after its
// handle has been cleared by release or free.
func (r *Runner) subject(name string) (*object.Object, error) {
	obj, ok := r.last[name]
	if !ok {
		return nil, failf("unknown binding %q", name)
	}
	return obj, nil
}

func (r *Runner) freed(obj *object.Object) bool {
	if r.vm != nil && r.vm.Debug() {
		return r.vm.DebugWasFreed(obj)
	}
	return !obj.Alive
}

func (r *Runner) expect(s *Step) (string, error) {
	switch s.Op {
	case OpExpectAlive:
		obj, err := r.subject(s.Name)
		if err != nil {
			return "", err
		}
		if r.freed(obj) {
			return "", failf("%s was freed", s.Name)
		}
		return s.Name + " alive", nil

	case OpExpectFreed:
		obj, err := r.subject(s.Name)
		if err != nil {
			return "", err
		}
		if !r.freed(obj) {
			return "", failf("%s is still alive", s.Name)
		}
		return s.Name + " freed", nil

	case OpExpectRefCount:
		if r.heap == nil {
			return "", fmt.Errorf("%s: %w", s.Op, ErrWrongStrategy)
		}
		obj, err := r.subject(s.Name)
		if err != nil {
			return "", err
		}
		want, err := safecast.Conv[uint32](*s.Count)
		if err != nil {
			return "", failf("count %d: %v", *s.Count, err)
		}
		if !obj.Alive {
			return "", failf("%s was freed, want rc=%d", s.Name, want)
		}
		if obj.RefCount != want {
			return "", failf("%s rc=%d, want %d", s.Name, obj.RefCount, want)
		}
		return fmt.Sprintf("%s rc=%d", s.Name, want), nil

	case OpExpectValue:
		obj, err := r.subject(s.Name)
		if err != nil {
			return "", err
		}
		if got := object.Format(obj); got != s.Value {
			return "", failf("%s = %s, want %s", s.Name, got, s.Value)
		}
		return fmt.Sprintf("%s = %s", s.Name, s.Value), nil

	case OpExpectLive:
		want, err := safecast.Conv[int](*s.Count)
		if err != nil {
			return "", failf("count %d: %v", *s.Count, err)
		}
		if got := r.live(); got != want {
			return "", failf("live=%d, want %d", got, want)
		}
		return fmt.Sprintf("live=%d", want), nil
	}
	return "", fmt.Errorf("unknown expectation %q", s.Op)
}

// expectError checks the error of the previous step and, on a match, marks
// that step as expected so it does not count as a failure.
func (r *Runner) expectError(s *Step, prev error, report *Report) (string, error) {
	if prev == nil {
		return "", failf("previous step succeeded")
	}
	if s.Code != "" {
		code, _ := object.ParseCode(s.Code)
		if got := object.CodeOf(prev); got != code {
			return "", failf("got %v, want %s", prev, code)
		}
	}
	if n := len(report.Steps); n > 0 {
		report.Steps[n-1].Expected = true
	}
	return "error: " + prev.Error(), nil
}
