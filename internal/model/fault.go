package model

import (
	"errors"
	"fmt"
)

// FaultKind classifies failures surfaced to the orchestration layer.
type FaultKind string

const (
	// FaultTransport covers network errors, timeouts and non-2xx replies.
	FaultTransport FaultKind = "transport_error"
	// FaultValidation covers missing or malformed required input.
	FaultValidation FaultKind = "invalid_input"
	// FaultUpstreamFailed means the upstream job reached its FAILED state.
	FaultUpstreamFailed FaultKind = "upstream_failed"
	// FaultPollExhausted means the poll attempt cap was reached.
	FaultPollExhausted FaultKind = "poll_exhausted"
	// FaultCanceled means the caller's context ended first.
	FaultCanceled FaultKind = "canceled"
)

// Retryable reports whether an orchestrator may retry the enclosing unit of
// work. Validation and upstream failures never succeed on retry.
func (k FaultKind) Retryable() bool {
	switch k {
	case FaultTransport, FaultPollExhausted:
		return true
	default:
		return false
	}
}

// Outcome is the uniform status record reported for every unit of work.
type Outcome struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Outcome statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Fault is a typed failure carrying a machine-readable kind and a
// human-readable detail.
type Fault struct {
	Kind   FaultKind
	Detail string
	Err    error
}

// NewFault creates a fault with a formatted detail.
func NewFault(kind FaultKind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapFault creates a fault around an underlying error.
func WrapFault(kind FaultKind, err error, detail string) *Fault {
	return &Fault{Kind: kind, Detail: detail, Err: err}
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Outcome converts the fault into a FAILED outcome.
func (f *Fault) Outcome() Outcome {
	detail := f.Detail
	if f.Err != nil {
		detail = fmt.Sprintf("%s: %v", f.Detail, f.Err)
	}
	return Outcome{Status: StatusFailed, Reason: string(f.Kind), Detail: detail}
}

// OutcomeOf converts any error into an outcome. A nil error is COMPLETED;
// errors without a Fault in their chain are reported as transport errors.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{Status: StatusCompleted}
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Outcome()
	}
	return Outcome{Status: StatusFailed, Reason: string(FaultTransport), Detail: err.Error()}
}

// KindOf returns the fault kind in err's chain, or "" if there is none.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}
