package cliprdr

import (
	"errors"
	"fmt"
)

// Sentinel errors for client context failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrInit indicates the context or its monitor could not be created.
	// Reported once; the context must not be used afterward.
	ErrInit = errors.New("init error")

	// ErrInternal indicates a protocol-invariant violation, such as an
	// unmatched stream id. Always a bug signal; log it and abandon the
	// affected stream, do not retry.
	ErrInternal = errors.New("internal error")

	// ErrFail indicates a requested operation could not complete.
	// Recoverable: callers typically answer with a failure PDU.
	ErrFail = errors.New("operation failed")
)

// ClientError wraps an underlying error with its classification.
type ClientError struct {
	// Kind is the sentinel error for classification (e.g., ErrFail).
	Kind error
	// Op is the operation that failed (e.g., "request_file_contents").
	Op string
	// Err is the underlying error.
	Err error
}

func (e *ClientError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *ClientError) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func initError(op string, err error) error {
	return &ClientError{Kind: ErrInit, Op: op, Err: err}
}

func internalError(op, format string, args ...any) error {
	return &ClientError{Kind: ErrInternal, Op: op, Err: fmt.Errorf(format, args...)}
}

func failError(op, format string, args ...any) error {
	return &ClientError{Kind: ErrFail, Op: op, Err: fmt.Errorf(format, args...)}
}

// IsInternal reports whether err is classified as ErrInternal.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// IsFail reports whether err is classified as ErrFail.
func IsFail(err error) bool {
	return errors.Is(err, ErrFail)
}
