package store

import "fmt"

// Kind classifies an operation error into one of the categories an atomic
// script can fail with. Not-found/not-yet outcomes are not errors - they are
// returned as Status values from GetMessage - and idempotent no-ops are
// returned as ordinary zero-ish results, not errors.
type Kind int

const (
	// KindValidation marks a malformed or missing argument.
	KindValidation Kind = iota
	// KindConflict marks a state conflict such as a message id collision.
	KindConflict
	// KindInvariant marks a detected invariant violation, e.g. a subscriber
	// count that would go negative.
	KindInvariant
	// KindTransport marks a failure in the scripting host itself (connection,
	// script load, protocol) rather than in operation semantics.
	KindTransport
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// OpError is the structured error every engine operation returns on failure,
// mirroring the {err: "message"} records the reference scripts produce.
type OpError struct {
	Op      string
	Kind    Kind
	Message string
	Err     error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func newOpError(op string, kind Kind, msg string, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Message: msg, Err: err}
}

// ValidationError builds a KindValidation OpError.
func ValidationError(op, msg string) *OpError {
	return newOpError(op, KindValidation, msg, nil)
}

// ConflictError builds a KindConflict OpError.
func ConflictError(op, msg string) *OpError {
	return newOpError(op, KindConflict, msg, nil)
}

// InvariantError builds a KindInvariant OpError.
func InvariantError(op, msg string) *OpError {
	return newOpError(op, KindInvariant, msg, nil)
}

// WrapError wraps a lower-level error (a Redis/transport failure) without
// assigning it one of the three semantic kinds above.
func WrapError(op string, err error) *OpError {
	return newOpError(op, KindTransport, "operation failed", err)
}
