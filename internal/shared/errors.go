package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrDataIntegrity is matched by every IntegrityError.
	ErrDataIntegrity = errors.New("data integrity failure")
)

// IntegrityError reports a referenced row that vanished or a stored value that
// contradicts the ledger. The message shown to callers stays generic; the
// wrapped cause carries the operator detail.
type IntegrityError struct {
	Op  string
	Err error
}

// NewIntegrityError wraps err for operation op.
func NewIntegrityError(op string, err error) *IntegrityError {
	return &IntegrityError{Op: op, Err: err}
}

// Error implements error.
func (e *IntegrityError) Error() string {
	return "internal data integrity error, contact support"
}

// Unwrap exposes the cause.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Is matches ErrDataIntegrity.
func (e *IntegrityError) Is(target error) bool {
	return target == ErrDataIntegrity
}

// Detail is the operator facing description.
func (e *IntegrityError) Detail() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}
