package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrInvalidTransition = errors.New("status transition not allowed")
var ErrPermissionDenied = errors.New("location access refused")
var ErrMalformedResponse = errors.New("unexpected service payload")

// Outcome is the explicit acknowledgment of a state-changing operation.
// Callers decide whether to retry or surface a message; nothing in this
// package escalates an Outcome into a process failure.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeNotFound
	OutcomeRejected
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeRejected:
		return "rejected"
	case OutcomeTransportError:
		return "transport_error"
	}
	return "unknown"
}
