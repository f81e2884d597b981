package gateway

import (
	"errors"
	"fmt"
)

// ErrOrderNotFound is returned by GetOrderStatus when the exchange has no
// record of the order ID.
var ErrOrderNotFound = errors.New("order not found on exchange")

// TransportError wraps a network-level failure. Ambiguous marks failures
// where the request may have reached the exchange (timeout, connection reset
// after send); callers must treat those as unknown outcome, never as safe to
// retry without an idempotency check.
type TransportError struct {
	Op        string
	Ambiguous bool
	Err       error
}

func (e *TransportError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("%s: ambiguous transport failure: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RejectedError is an exchange-side validation refusal. Terminal: the order
// was not and will not be placed, retrying the same intent cannot succeed.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("order rejected by exchange (HTTP %d): %s", e.Status, e.Reason)
}

// IsAmbiguous reports whether an error means the request outcome is unknown.
func IsAmbiguous(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Ambiguous
}

// IsRetryable reports whether an error is safe to retry blindly: the request
// provably never reached the exchange.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && !te.Ambiguous
}
