package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/go-resty/resty/v2"
)

// OutcomeKind is the closed set of submit outcomes. Downstream logic branches
// on this tag only and never re-inspects raw payload shape.
type OutcomeKind int

const (
	// OutcomeAcknowledged means the exchange accepted the order and returned
	// its order ID.
	OutcomeAcknowledged OutcomeKind = iota
	// OutcomeRejected means the exchange refused the order. Terminal.
	OutcomeRejected
	// OutcomeTransportFailure means the request provably never reached the
	// exchange. Safe to retry.
	OutcomeTransportFailure
	// OutcomeAmbiguous means the request may have been processed. The caller
	// must record unknown and defer to reconciliation.
	OutcomeAmbiguous
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAcknowledged:
		return "acknowledged"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportFailure:
		return "transport_failure"
	case OutcomeAmbiguous:
		return "ambiguous"
	}
	return "invalid"
}

// SubmitOutcome is the classified result of an order submission.
type SubmitOutcome struct {
	Kind            OutcomeKind
	ExchangeOrderID string
	Status          string
	Reason          string
	Err             error
}

type submitResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	Status   string `json:"status"`
}

// classifySubmit maps a raw resty response/error pair onto the closed
// outcome variant. This is the only place the submit payload shape is
// examined.
func classifySubmit(resp *resty.Response, body *submitResponse, err error) SubmitOutcome {
	if err != nil {
		if sentToServer(err) {
			return SubmitOutcome{Kind: OutcomeAmbiguous, Err: err}
		}
		return SubmitOutcome{Kind: OutcomeTransportFailure, Err: err}
	}

	code := resp.StatusCode()
	switch {
	case code/100 == 2:
		if body.Success && body.OrderID != "" {
			return SubmitOutcome{
				Kind:            OutcomeAcknowledged,
				ExchangeOrderID: body.OrderID,
				Status:          body.Status,
			}
		}
		// HTTP 200 with success=false is an application-level refusal.
		return SubmitOutcome{Kind: OutcomeRejected, Reason: body.ErrorMsg}

	case code == http.StatusTooManyRequests:
		// Throttled before processing; never placed.
		return SubmitOutcome{
			Kind:   OutcomeTransportFailure,
			Reason: "rate limited",
			Err:    &TransportError{Op: "submit", Err: errors.New("HTTP 429")},
		}

	case code >= 500:
		// The server may or may not have placed the order before failing.
		return SubmitOutcome{
			Kind:   OutcomeAmbiguous,
			Reason: resp.Status(),
			Err:    &TransportError{Op: "submit", Ambiguous: true, Err: errors.New(resp.Status())},
		}

	default:
		reason := body.ErrorMsg
		if reason == "" {
			reason = resp.Status()
		}
		return SubmitOutcome{Kind: OutcomeRejected, Reason: reason}
	}
}

// sentToServer reports whether the request may already have left the local
// host when the error occurred. Dial-stage failures provably never sent
// anything; everything else is treated as possibly delivered.
func sentToServer(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Cancellation after send: the request may be in flight.
		return true
	}
	return true
}
