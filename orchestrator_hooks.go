package batchrelay

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ============================================================================
// Orchestrator Hook Context Types
// ============================================================================

// Transition is delivered to transition subscribers on every state change,
// including resets. Signing prompts, submission notices and success or
// failure toasts attach here.
type Transition struct {
	From      State
	To        State
	Snapshot  Snapshot
	Timestamp time.Time
}

// SignContext is passed to before-sign hooks.
type SignContext struct {
	Ctx     context.Context
	Account common.Address
	Batch   CallBatch
}

// RelayContext is passed to before-relay hooks.
type RelayContext struct {
	Ctx     context.Context
	Request RelayRequest
	Batch   CallBatch
}

// FailureContext is passed to failure hooks.
type FailureContext struct {
	Ctx      context.Context
	Phase    Phase
	Error    *PipelineError
	Batch    CallBatch
	Duration time.Duration
}

// ============================================================================
// Orchestrator Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the run fails with a precondition error carrying Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// ============================================================================
// Orchestrator Hook Function Types
// ============================================================================

// TransitionHook observes state transitions. It must not block.
type TransitionHook func(Transition)

// BeforeSignHook runs before the wallet is prompted.
type BeforeSignHook func(SignContext) (*BeforeHookResult, error)

// BeforeRelayHook runs after signing and before the relay is called.
type BeforeRelayHook func(RelayContext) (*BeforeHookResult, error)

// FailureHook observes a failed run.
type FailureHook func(FailureContext)
