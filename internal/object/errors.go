package object

import "fmt"

// Code identifies a class of object-memory failure.
type Code int

// Stable error codes - do not change values.
const (
	CodeAllocationFailure  Code = 1001 // MEM1001: allocation refused
	CodeInvalidArgument    Code = 1002 // MEM1002: nil argument, bad kind, out of bounds
	CodeOwnershipViolation Code = 1003 // MEM1003: free with outstanding co-owners
	CodeUseAfterFree       Code = 1004 // MEM1004: operation on a deallocated object
	CodeStrategyMismatch   Code = 1005 // MEM1005: object used under the wrong discipline
)

// String returns the code as "MEM1001" format.
func (c Code) String() string {
	return fmt.Sprintf("MEM%d", c)
}

// Error is a recoverable object-memory failure.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrAllocation       = &Error{Code: CodeAllocationFailure, Message: "allocation failure"}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument, Message: "invalid argument"}
	ErrOwnership        = &Error{Code: CodeOwnershipViolation, Message: "ownership violation"}
	ErrUseAfterFree     = &Error{Code: CodeUseAfterFree, Message: "use after free"}
	ErrStrategyMismatch = &Error{Code: CodeStrategyMismatch, Message: "strategy mismatch"}
)

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, or 0 when err is not an *Error.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return 0
}

// ParseCode accepts "MEM1002", "1002" or a symbolic name such as "invalid_argument".
func ParseCode(s string) (Code, bool) {
	switch s {
	case "MEM1001", "1001", "allocation_failure":
		return CodeAllocationFailure, true
	case "MEM1002", "1002", "invalid_argument":
		return CodeInvalidArgument, true
	case "MEM1003", "1003", "ownership_violation":
		return CodeOwnershipViolation, true
	case "MEM1004", "1004", "use_after_free":
		return CodeUseAfterFree, true
	case "MEM1005", "1005", "strategy_mismatch":
		return CodeStrategyMismatch, true
	default:
		return 0, false
	}
}

// CheckOwned validates that obj is a live object of the given strategy and owner.
func CheckOwned(obj *Object, strategy Strategy, owner uint64, what string) error {
	if obj == nil {
		return Errorf(CodeInvalidArgument, "%s is nil", what)
	}
	if obj.Strategy != strategy {
		return Errorf(CodeStrategyMismatch, "%s is a %s object, expected %s", what, obj.Strategy, strategy)
	}
	if obj.Owner != owner {
		return Errorf(CodeInvalidArgument, "%s #%d belongs to another owner", what, obj.ID)
	}
	if !obj.Alive {
		return Errorf(CodeUseAfterFree, "%s #%d used after free", what, obj.ID)
	}
	return nil
}
