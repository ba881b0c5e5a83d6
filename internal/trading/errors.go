package trading

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidOrder         = errors.New("invalid order")
	ErrPriceUnavailable     = errors.New("price unavailable, try again later")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
	ErrUnknownUser          = errors.New("user not found")

	// ErrLedger marks persistence faults. No partial mutation is left
	// behind, so the request is safe to retry.
	ErrLedger = errors.New("ledger unavailable")
)

// OrderError is returned by PlaceOrder. Stage is where the request stopped.
type OrderError struct {
	Stage Stage
	Err   error
}

func (e *OrderError) Error() string {
	return e.Err.Error()
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// StatusCode maps the error to an HTTP-style status
func (e *OrderError) StatusCode() int {
	if IsClientError(e) {
		return http.StatusBadRequest
	}
	if errors.Is(e, ErrUnknownUser) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// IsClientError reports whether err was caused by the request rather than
// by a server fault
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidOrder) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientHoldings)
}

func reject(stage Stage, err error) *OrderError {
	return &OrderError{Stage: stage, Err: err}
}

func invalid(format string, args ...interface{}) *OrderError {
	return reject(StageReceived, fmt.Errorf("%w: %s", ErrInvalidOrder, fmt.Sprintf(format, args...)))
}
