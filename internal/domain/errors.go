package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors
var (
	ErrNotFound  = errors.New("record not found")
	ErrForbidden = errors.New("access forbidden: caller has no scope over this resource")

	// ErrInvalidState means the operation is not legal for the record's
	// current status (e.g. attaching a proof to a cancelled invoice).
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrAlreadyPaid is a specialization of ErrInvalidState so clients can
	// tell a settled invoice apart from one in the wrong intermediate state.
	ErrAlreadyPaid = errors.New("invoice is already paid")

	// ErrMissingProof means a review was requested on an invoice that never
	// had a payment proof attached.
	ErrMissingProof = errors.New("invoice has no payment proof attached")

	// Idempotency violations. Both map onto unique indexes in Mongo so that
	// concurrent check-then-act callers collapse onto the same error.
	ErrDuplicateInvoice = errors.New("open invoice already exists for this owner, category and billing period")
	ErrDuplicateRevenue = errors.New("revenue already recorded for this transaction")
)

// ValidationError reports malformed input. It is always raised before any
// mutation so the caller can correct the request and resubmit.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a single field
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GatewayError carries the payment provider's failure detail. The detail is
// logged server-side; end users only ever see a generic message.
type GatewayError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	bt := strings.TrimSpace(e.Body)
	if bt == "" {
		return fmt.Sprintf("gateway error: %s", e.Status)
	}
	return fmt.Sprintf("gateway error: %s: %s", e.Status, bt)
}
