package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for the trading system.
var (
	// Entry gate denials
	ErrSpreadExceeded        = errors.New("spread exceeded")
	ErrDistanceBandViolation = errors.New("outside distance band")
	ErrPositionExists        = errors.New("system already has a position")

	// Order errors
	ErrSubmissionFailed        = errors.New("order submission failed")
	ErrSubmissionIndeterminate = errors.New("order submission outcome unknown")
	ErrInvalidOrderSize        = errors.New("invalid order size")

	// State errors
	ErrReconciliationConflict = errors.New("more than one position for system after reconciliation")
	ErrMalformedIdentifier    = errors.New("malformed order identifier")
	ErrStateNotFound          = errors.New("state not found")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// GateError is returned when the entry gate denies an order.
type GateError struct {
	Reason error // ErrSpreadExceeded, ErrDistanceBandViolation or ErrPositionExists
	System string
	Detail string
}

func (e *GateError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("gate denied for system %s: %v", e.System, e.Reason)
	}
	return fmt.Sprintf("gate denied for system %s: %v (%s)", e.System, e.Reason, e.Detail)
}

func (e *GateError) Unwrap() error {
	return e.Reason
}

// IsGateDenied reports whether err is a gate denial.
func IsGateDenied(err error) bool {
	var ge *GateError
	return errors.As(err, &ge)
}
