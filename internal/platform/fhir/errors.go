package fhir

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the boundary layer can render the
// protocol-appropriate status without inspecting messages.
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota
	KindUnknownParameter
	KindNotFound
	KindGone
	KindConflict
	KindTransaction
	KindUnavailable
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad-request"
	case KindUnknownParameter:
		return "unknown-parameter"
	case KindNotFound:
		return "not-found"
	case KindGone:
		return "gone"
	case KindConflict:
		return "conflict"
	case KindTransaction:
		return "transaction"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Error is the machine-readable failure carried through the core. Parameter
// names the offending search parameter (unknown-parameter errors) and
// EntryIndex the offending bundle entry (transaction errors, -1 otherwise).
type Error struct {
	Kind       ErrorKind
	Message    string
	Parameter  string
	EntryIndex int
	cause      error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// BadRequestf creates a client error for malformed input.
func BadRequestf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...), EntryIndex: -1}
}

// UnknownParameterError creates a client error for a search parameter that
// is not defined for the resource type.
func UnknownParameterError(resourceType, param string) *Error {
	return &Error{
		Kind:       KindUnknownParameter,
		Message:    fmt.Sprintf("unknown search parameter %q for resource type %s", param, resourceType),
		Parameter:  param,
		EntryIndex: -1,
	}
}

// NotFoundError creates an error for a key with no matching entry at all.
func NotFoundError(key Key) *Error {
	return &Error{Kind: KindNotFound, Message: key.String() + " not found", EntryIndex: -1}
}

// GoneError creates an error for an identity whose current state is deleted.
// Distinguished from not-found: history still exists.
func GoneError(key Key) *Error {
	return &Error{Kind: KindGone, Message: key.Identity() + " has been deleted", EntryIndex: -1}
}

// ConflictError creates an error for a version-precondition mismatch.
func ConflictError(expected, actual int) *Error {
	return &Error{
		Kind:       KindConflict,
		Message:    fmt.Sprintf("version conflict: expected version %d but resource is at version %d", expected, actual),
		EntryIndex: -1,
	}
}

// DuplicateVersionError creates an error for a write that collides with a
// version of the resource that is already stored.
func DuplicateVersionError(key Key) *Error {
	return &Error{
		Kind:       KindConflict,
		Message:    fmt.Sprintf("version conflict: %s already exists", key.String()),
		EntryIndex: -1,
	}
}

// BusyError creates an error for a maintenance operation that is already
// running.
func BusyError(op string) *Error {
	return &Error{Kind: KindConflict, Message: op + " is already running", EntryIndex: -1}
}

// TransactionError creates a bundle-aborting error naming the failing entry.
func TransactionError(entryIndex int, message string) *Error {
	return &Error{Kind: KindTransaction, Message: message, EntryIndex: entryIndex}
}

// UnavailableError wraps a store or index I/O failure. Always fatal to the
// current request; retry policy belongs to the calling infrastructure.
func UnavailableError(op string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: op, EntryIndex: -1, cause: cause}
}

// KindOf returns the ErrorKind of err, or KindInternal for untyped errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Outcome renders the error as an OperationOutcome.
func (e *Error) Outcome() *OperationOutcome {
	code := IssueTypeProcessing
	switch e.Kind {
	case KindBadRequest, KindUnknownParameter:
		code = IssueTypeInvalid
	case KindNotFound:
		code = IssueTypeNotFound
	case KindGone:
		code = IssueTypeDeleted
	case KindConflict:
		code = IssueTypeConflict
	case KindTransaction:
		code = IssueTypeProcessing
	case KindUnavailable:
		code = IssueTypeException
	}
	severity := IssueSeverityError
	if e.Kind == KindUnavailable {
		severity = IssueSeverityFatal
	}
	oo := NewOperationOutcome(severity, code, e.Message)
	if e.Parameter != "" {
		oo.Issue[0].Expression = []string{e.Parameter}
	}
	if e.EntryIndex >= 0 {
		oo.Issue[0].Expression = append(oo.Issue[0].Expression,
			fmt.Sprintf("Bundle.entry[%d]", e.EntryIndex))
	}
	return oo
}

// StatusFor maps an error onto the HTTP status code of its kind. Untyped
// errors are internal.
func StatusFor(err error) int {
	switch KindOf(err) {
	case KindBadRequest, KindUnknownParameter, KindTransaction:
		return 400
	case KindNotFound:
		return 404
	case KindGone:
		return 410
	case KindConflict:
		return 409
	case KindUnavailable:
		return 503
	default:
		return 500
	}
}

// OutcomeFor renders any error as an OperationOutcome, wrapping untyped
// errors as internal exceptions.
func OutcomeFor(err error) *OperationOutcome {
	var e *Error
	if errors.As(err, &e) {
		return e.Outcome()
	}
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, err.Error())
}
