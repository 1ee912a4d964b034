package batchrelay

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrorKind classifies pipeline failures so callers can react without
// string matching.
type ErrorKind string

// Error kinds
const (
	KindPrecondition       ErrorKind = "precondition"
	KindEmptyBatch         ErrorKind = "empty_batch"
	KindBusy               ErrorKind = "busy"
	KindSigningUnavailable ErrorKind = "signing_unavailable"
	KindUserRejected       ErrorKind = "user_rejected"
	KindNonceFetchFailed   ErrorKind = "nonce_fetch_failed"
	KindNonceConflict      ErrorKind = "nonce_conflict"
	KindRelayFailed        ErrorKind = "relay_failed"
	KindSubmissionUnknown  ErrorKind = "submission_unknown"
	KindReverted           ErrorKind = "reverted"
	KindTrackingFailed     ErrorKind = "tracking_failed"
)

// Phase names the pipeline step an error belongs to.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseSign     Phase = "sign"
	PhaseRelay    Phase = "relay"
	PhaseConfirm  Phase = "confirm"
)

// Sentinels for errors.Is. A *PipelineError matches the sentinel of its kind.
var (
	ErrPrecondition       = &PipelineError{Kind: KindPrecondition}
	ErrEmptyBatch         = &PipelineError{Kind: KindEmptyBatch}
	ErrBusy               = &PipelineError{Kind: KindBusy}
	ErrSigningUnavailable = &PipelineError{Kind: KindSigningUnavailable}
	ErrUserRejected       = &PipelineError{Kind: KindUserRejected}
	ErrNonceFetchFailed   = &PipelineError{Kind: KindNonceFetchFailed}
	ErrNonceConflict      = &PipelineError{Kind: KindNonceConflict}
	ErrRelayFailed        = &PipelineError{Kind: KindRelayFailed}
	ErrSubmissionUnknown  = &PipelineError{Kind: KindSubmissionUnknown}
	ErrReverted           = &PipelineError{Kind: KindReverted}
	ErrTrackingFailed     = &PipelineError{Kind: KindTrackingFailed}
)

// PipelineError is the error type returned by every pipeline component.
type PipelineError struct {
	Kind    ErrorKind
	Phase   Phase
	Message string

	// TxHash is set once the relay has accepted the transaction.
	TxHash *common.Hash
	// Broadcast reports that the transaction may already be on chain and
	// can still land even though this run gave up on it.
	Broadcast bool

	Err error
}

func (e *PipelineError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Phase != "" {
		return fmt.Sprintf("%s: %s", e.Phase, msg)
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches on kind so errors.Is(err, ErrUserRejected) works on any
// wrapped pipeline error of that kind.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the caller can succeed by running the pipeline
// again with a fresh authorization.
func (e *PipelineError) Retryable() bool {
	return e.Kind == KindNonceConflict
}

// UserMessage returns short, actionable text for display.
func (e *PipelineError) UserMessage() string {
	switch e.Kind {
	case KindUserRejected:
		return "Signature request was rejected in the wallet."
	case KindSigningUnavailable:
		return "Connect a wallet that can sign typed data and try again."
	case KindNonceFetchFailed:
		return "Could not read the account nonce. Check the network connection and try again."
	case KindNonceConflict:
		return "The account nonce changed before the relay could submit. Sign again to retry."
	case KindRelayFailed:
		if e.Message != "" {
			return "Relay failed: " + e.Message
		}
		return "The relay could not submit the transaction."
	case KindSubmissionUnknown:
		return "Relay status unknown: the transaction may have been submitted. Check the explorer before retrying."
	case KindReverted:
		if e.Err != nil {
			return "The transaction was mined but reverted on chain: " + e.Err.Error()
		}
		return "The transaction was mined but reverted on chain."
	case KindTrackingFailed:
		if e.Broadcast {
			return "Lost track of the transaction. It may still land; check the explorer before retrying."
		}
		return "Could not determine the transaction status."
	case KindEmptyBatch:
		return "Nothing to submit."
	case KindBusy:
		return "A transaction is already in progress."
	default:
		if e.Message != "" {
			return e.Message
		}
		return "The request is not valid."
	}
}

// NewPipelineError creates a pipeline error of the given kind.
func NewPipelineError(kind ErrorKind, phase Phase, message string, err error) *PipelineError {
	return &PipelineError{
		Kind:    kind,
		Phase:   phase,
		Message: message,
		Err:     err,
	}
}

// KindOf returns the kind of a pipeline error anywhere in err's chain, or ""
// when err is not a pipeline error.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// withPhase returns err as a pipeline error attributed to phase. Errors of
// other types are wrapped with fallback as their kind.
func withPhase(err error, phase Phase, fallback ErrorKind) *PipelineError {
	var pe *PipelineError
	if errors.As(err, &pe) {
		out := *pe
		if out.Phase == "" {
			out.Phase = phase
		}
		return &out
	}
	return NewPipelineError(fallback, phase, "", err)
}
