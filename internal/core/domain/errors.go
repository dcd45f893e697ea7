package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DomainError represents a coded error. Codes have the form MK-<AREA>-<NNNN>,
// where the number borrows the closest HTTP status semantics.
type DomainError struct {
	Code    string // Error code (e.g., "MK-FMT-4220")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError with the same code.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// Detailf is WithDetails with formatting.
func (e *DomainError) Detailf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Status returns the HTTP status a code borrows: the four digits divided
// by ten. Codes outside 400-599 map to 500.
func (e *DomainError) Status() int {
	return StatusOf(e.Code)
}

// StatusOf is Status for a bare code, such as one read from a reply.
func StatusOf(code string) int {
	i := strings.LastIndexByte(code, '-')
	if i < 0 {
		return 500
	}
	n, err := strconv.Atoi(code[i+1:])
	if err != nil || len(code)-i-1 != 4 {
		return 500
	}
	if status := n / 10; status >= 400 && status < 600 {
		return status
	}
	return 500
}

// CodeOf returns the code of the first DomainError in err's chain, or "".
func CodeOf(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Persistence error taxonomy
// ============================================================================

var (
	// ErrConfiguration is a bad schedule expression, an unusable destination
	// or a name that escapes the configured root. Raised before any I/O.
	ErrConfiguration = NewDomainError("MK-CONF-4000", "invalid persistence configuration")

	// ErrIO is a backend read, write, list or delete failure.
	ErrIO = NewDomainError("MK-IO-5000", "snapshot i/o failure")

	// ErrFormat is an unrecognized version, a truncated or corrupt stream,
	// or a manifest that references a missing shard file.
	ErrFormat = NewDomainError("MK-FMT-4220", "invalid snapshot format")

	// ErrBusy is returned when an operation of the same type is in flight.
	ErrBusy = NewDomainError("MK-BUSY-4090", "operation already in progress")

	// ErrNotFound is returned when a snapshot object does not exist.
	ErrNotFound = NewDomainError("MK-SNAP-4040", "snapshot not found")

	// ErrDisabled is returned when persistence has no destination name.
	ErrDisabled = NewDomainError("MK-SNAP-4120", "snapshot name not configured")
)

// ============================================================================
// Keyspace errors
// ============================================================================

var (
	// ErrWrongType is returned when a command targets a key of another kind.
	ErrWrongType = NewDomainError("MK-KEY-4001", "operation against a key holding the wrong kind of value")

	// ErrInvalidDB is returned when the database index is out of range.
	ErrInvalidDB = NewDomainError("MK-KEY-4002", "database index out of range")
)
