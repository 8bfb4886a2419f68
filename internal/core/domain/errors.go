package domain

import (
	"errors"
	"fmt"
)

// Kind classifies errors into the categories callers branch on.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalidChain
	KindIOFailure
	KindNotSupported
	KindInvalidParam
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidChain:
		return "invalid_chain"
	case KindIOFailure:
		return "io_failure"
	case KindNotSupported:
		return "not_supported"
	case KindInvalidParam:
		return "invalid_param"
	default:
		return "unknown"
	}
}

// DomainError represents a storage error with a structured error code.
type DomainError struct {
	Code    string // Error code (e.g., "CS-DUMP-4040")
	Kind    Kind   // Category shared by several codes
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

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code, kind and message.
func NewDomainError(code string, kind Kind, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Kind:    kind,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Kind:    e.Kind,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// Wrap wraps an error with this domain error as the cause.
func (e *DomainError) Wrap(cause error) *DomainError {
	return e.WithCause(cause)
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// KindOf returns the kind of the outermost DomainError in err's chain.
func KindOf(err error) Kind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IOFailure wraps a low-level error as ErrIOFailure unless it already is a
// DomainError.
func IOFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err, "") {
		return err
	}
	return ErrIOFailure.WithDetails(op).WithCause(err)
}

// ============================================================================
// Not found (4040)
// ============================================================================

var (
	// ErrNotFound indicates a key, list element or table entry is absent.
	ErrNotFound = NewDomainError("CS-STATE-4040", KindNotFound, "not found")

	// ErrDumpNotFound indicates no dump file exists for a block.
	ErrDumpNotFound = NewDomainError("CS-DUMP-4040", KindNotFound, "dump not found")

	// ErrRedoLogNotFound indicates no redo log exists for a block.
	ErrRedoLogNotFound = NewDomainError("CS-REDO-4040", KindNotFound, "redo log not found")

	// ErrHeaderNotFound indicates the header index has no entry for a block.
	ErrHeaderNotFound = NewDomainError("CS-CHAIN-4040", KindNotFound, "header not found")
)

// ============================================================================
// Chain
// ============================================================================

var (
	// ErrInvalidChain indicates the parent walk broke before reaching a dump.
	ErrInvalidChain = NewDomainError("CS-CHAIN-4220", KindInvalidChain, "invalid chain")
)

// ============================================================================
// System
// ============================================================================

var (
	// ErrIOFailure indicates a filesystem or storage engine failure.
	ErrIOFailure = NewDomainError("CS-IO-5000", KindIOFailure, "io failure")

	// ErrNotSupported indicates the operation is not allowed, e.g. a write in read-only mode.
	ErrNotSupported = NewDomainError("CS-STATE-4050", KindNotSupported, "operation not supported")
)

// ============================================================================
// Arguments
// ============================================================================

var (
	// ErrInvalidParam indicates a malformed argument or a type mismatch.
	ErrInvalidParam = NewDomainError("CS-PARAM-4000", KindInvalidParam, "invalid parameter")

	// ErrCorruptedLog indicates redo log bytes failed to decode.
	ErrCorruptedLog = NewDomainError("CS-REDO-4220", KindInvalidParam, "corrupted redo log")
)
