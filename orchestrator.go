package batchrelay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the lifecycle of one pipeline run.
type State string

const (
	StateIdle       State = "idle"
	StateSigning    State = "signing"
	StateRelaying   State = "relaying"
	StateConfirming State = "confirming"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// InFlight reports whether a run is active in state s.
func (s State) InFlight() bool {
	return s == StateSigning || s == StateRelaying || s == StateConfirming
}

// ExecuteBatchFunction is the batch-executor entry point the relay invokes.
const ExecuteBatchFunction = "executeBatch"

const tracerName = "github.com/sweepstack/batchrelay"

// Snapshot is a consistent view of the orchestrator. The boolean flags are
// derived from State and never stored separately.
type Snapshot struct {
	State         State
	Authorization *Authorization
	Handle        *TransactionHandle
	Receipt       *Receipt
	Err           *PipelineError
	PhaseErrors   map[Phase]*PipelineError

	IsLoading bool
	IsSuccess bool
	IsError   bool

	// Draining is set after Reset while the discarded run has not returned
	// yet. Execute is rejected as busy until it clears.
	Draining bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecutorABI sets the batch-executor ABI JSON and function name sent
// to the relay. The function defaults to executeBatch.
func WithExecutorABI(abiJSON []byte, functionName string) Option {
	return func(o *Orchestrator) {
		o.executorABI = abiJSON
		if functionName != "" {
			o.functionName = functionName
		}
	}
}

// WithLogger sets the logger. Default: no-op.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTracer sets the tracer used for per-phase spans. Default: the global
// tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// Orchestrator runs sign, relay and confirm as one cancellable unit of work.
// A single instance carries at most one in-flight run.
type Orchestrator struct {
	signer  AuthorizationSigner
	relay   RelaySubmitter
	tracker ConfirmationTracker

	executorABI  []byte
	functionName string
	logger       *zap.Logger
	tracer       trace.Tracer

	mu            sync.RWMutex
	state         State
	generation    uint64
	running       bool
	draining      bool
	cancel        context.CancelFunc
	authorization *Authorization
	handle        *TransactionHandle
	receipt       *Receipt
	err           *PipelineError
	phaseErrors   map[Phase]*PipelineError

	transitionHooks  []TransitionHook
	beforeSignHooks  []BeforeSignHook
	beforeRelayHooks []BeforeRelayHook
	failureHooks     []FailureHook
}

// NewOrchestrator creates an orchestrator in the Idle state.
func NewOrchestrator(signer AuthorizationSigner, relay RelaySubmitter, tracker ConfirmationTracker, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		signer:       signer,
		relay:        relay,
		tracker:      tracker,
		functionName: ExecuteBatchFunction,
		logger:       zap.NewNop(),
		tracer:       otel.Tracer(tracerName),
		state:        StateIdle,
		phaseErrors:  make(map[Phase]*PipelineError),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// OnTransition subscribes to state transitions.
func (o *Orchestrator) OnTransition(hook TransitionHook) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitionHooks = append(o.transitionHooks, hook)
	return o
}

// OnBeforeSign adds a hook that runs before the wallet prompt.
func (o *Orchestrator) OnBeforeSign(hook BeforeSignHook) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.beforeSignHooks = append(o.beforeSignHooks, hook)
	return o
}

// OnBeforeRelay adds a hook that runs before the relay call.
func (o *Orchestrator) OnBeforeRelay(hook BeforeRelayHook) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.beforeRelayHooks = append(o.beforeRelayHooks, hook)
	return o
}

// OnFailure adds a hook that observes failed runs.
func (o *Orchestrator) OnFailure(hook FailureHook) *Orchestrator {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failureHooks = append(o.failureHooks, hook)
	return o
}

// Snapshot returns the current state and results.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshotLocked()
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Execute runs the pipeline for batch. It is rejected with a KindBusy error
// while another run is in flight, including a run discarded by Reset that
// has not returned yet; the wallet is not prompted and the relay is not
// called in that case.
//
// Args:
//
//	ctx: Cancels the run. Cancelling after the relay accepted the
//	     transaction yields a KindTrackingFailed error with Broadcast set.
//	batch: Ordered calls to execute atomically
//
// Returns:
//
//	The receipt on success, or on revert together with a KindReverted error
//	A *PipelineError on any failure
func (o *Orchestrator) Execute(ctx context.Context, batch CallBatch) (*Receipt, error) {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil, NewPipelineError(KindBusy, "", "a pipeline run is already in flight", nil)
	}
	o.running = true
	o.generation++
	gen := o.generation
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.clearLocked()
	o.mu.Unlock()
	defer cancel()
	defer o.release()

	start := time.Now()
	fail := func(phase Phase, perr *PipelineError, receipt *Receipt) (*Receipt, error) {
		if !o.finish(gen, StateFailed, func() {
			o.receipt = receipt
			o.err = perr
			o.phaseErrors[phase] = perr
		}) {
			return receipt, perr
		}
		o.logger.Warn("pipeline failed",
			zap.String("phase", string(phase)),
			zap.String("kind", string(perr.Kind)),
			zap.Error(perr))
		o.runFailureHooks(FailureContext{Ctx: ctx, Phase: phase, Error: perr, Batch: batch, Duration: time.Since(start)})
		return receipt, perr
	}

	if err := ValidateBatch(batch); err != nil {
		return fail(PhaseValidate, withPhase(err, PhaseValidate, KindPrecondition), nil)
	}
	if len(o.executorABI) == 0 {
		return fail(PhaseValidate, NewPipelineError(KindPrecondition, PhaseValidate, "executor ABI is not configured", nil), nil)
	}
	if o.signer == nil || o.relay == nil || o.tracker == nil {
		return fail(PhaseValidate, NewPipelineError(KindPrecondition, PhaseValidate, "orchestrator is missing a signer, relay or tracker", nil), nil)
	}

	// Signing
	if !o.advance(gen, StateSigning, nil) {
		return nil, o.staleError(PhaseSign)
	}
	signCtx := SignContext{Ctx: runCtx, Account: o.signer.Account(), Batch: batch}
	for _, hook := range o.snapshotBeforeSignHooks() {
		result, err := hook(signCtx)
		if err != nil {
			return fail(PhaseSign, withPhase(err, PhaseSign, KindPrecondition), nil)
		}
		if result != nil && result.Abort {
			return fail(PhaseSign, NewPipelineError(KindPrecondition, PhaseSign, result.Reason, nil), nil)
		}
	}

	auth, err := o.sign(runCtx)
	if err != nil {
		return fail(PhaseSign, withPhase(err, PhaseSign, KindSigningUnavailable), nil)
	}

	// Relaying
	req := RelayRequest{
		Sender:        o.signer.Account(),
		Authorization: *auth,
		ContractABI:   o.executorABI,
		FunctionName:  o.functionName,
		Args:          []interface{}{batch.Targets(), batch.Data()},
	}
	if !o.advance(gen, StateRelaying, func() { o.authorization = auth }) {
		return nil, o.staleError(PhaseRelay)
	}
	relayCtx := RelayContext{Ctx: runCtx, Request: req, Batch: batch}
	for _, hook := range o.snapshotBeforeRelayHooks() {
		result, err := hook(relayCtx)
		if err != nil {
			return fail(PhaseRelay, withPhase(err, PhaseRelay, KindPrecondition), nil)
		}
		if result != nil && result.Abort {
			return fail(PhaseRelay, NewPipelineError(KindPrecondition, PhaseRelay, result.Reason, nil), nil)
		}
	}

	handle, err := o.submit(runCtx, req)
	if err != nil {
		return fail(PhaseRelay, withPhase(err, PhaseRelay, KindRelayFailed), nil)
	}
	if handle.ChainID == nil {
		handle.ChainID = auth.ChainID
	}
	o.logger.Info("transaction relayed", zap.String("txHash", handle.TxHash.Hex()))

	// Confirming
	if !o.advance(gen, StateConfirming, func() { o.handle = handle }) {
		return nil, o.staleBroadcastError(handle.TxHash)
	}

	receipt, err := o.confirm(runCtx, *handle)
	if err != nil {
		perr := withPhase(err, PhaseConfirm, KindTrackingFailed)
		if perr.TxHash == nil {
			h := handle.TxHash
			perr.TxHash = &h
			perr.Broadcast = true
		}
		return fail(PhaseConfirm, perr, receipt)
	}

	if !o.finish(gen, StateSucceeded, func() { o.receipt = receipt }) {
		return receipt, o.staleBroadcastError(receipt.TxHash)
	}
	o.logger.Info("transaction confirmed",
		zap.String("txHash", receipt.TxHash.Hex()),
		zap.Uint64("blockNumber", receipt.BlockNumber))
	return receipt, nil
}

// Reset returns to Idle from any state. Authorization, handle, receipt and
// errors are discarded; an in-flight run is cancelled and its late results
// are not recorded. Reset does not wait for that run: the orchestrator stays
// busy until it returns.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	o.generation++
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	from := o.state
	o.state = StateIdle
	o.draining = o.running
	o.clearLocked()
	snap := o.snapshotLocked()
	hooks := append([]TransitionHook(nil), o.transitionHooks...)
	o.mu.Unlock()

	if from != StateIdle {
		o.notify(hooks, Transition{From: from, To: StateIdle, Snapshot: snap, Timestamp: time.Now()})
	}
}

func (o *Orchestrator) sign(ctx context.Context) (*Authorization, error) {
	ctx, span := o.tracer.Start(ctx, "batchrelay.sign")
	defer span.End()

	auth, err := o.signer.SignAuthorization(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return nil, err
	}
	if auth == nil {
		err := NewPipelineError(KindSigningUnavailable, PhaseSign, "signer returned no authorization", nil)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("authorization.address", auth.Address.Hex()),
		attribute.Int64("authorization.nonce", int64(auth.Nonce)),
	)
	return auth, nil
}

func (o *Orchestrator) submit(ctx context.Context, req RelayRequest) (*TransactionHandle, error) {
	ctx, span := o.tracer.Start(ctx, "batchrelay.relay")
	defer span.End()

	handle, err := o.relay.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return nil, err
	}
	if handle == nil {
		err := NewPipelineError(KindRelayFailed, PhaseRelay, "relay returned no transaction hash", nil)
		span.SetStatus(codes.Error, err.Message)
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.hash", handle.TxHash.Hex()))
	return handle, nil
}

func (o *Orchestrator) confirm(ctx context.Context, handle TransactionHandle) (*Receipt, error) {
	ctx, span := o.tracer.Start(ctx, "batchrelay.confirm",
		trace.WithAttributes(attribute.String("tx.hash", handle.TxHash.Hex())))
	defer span.End()

	receipt, err := o.tracker.Track(ctx, handle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(KindOf(err)))
		return receipt, err
	}
	span.SetAttributes(attribute.Int64("receipt.block", int64(receipt.BlockNumber)))
	return receipt, nil
}

// advance moves the run identified by gen to an in-flight state. It returns
// false when the run was reset in the meantime.
func (o *Orchestrator) advance(gen uint64, to State, mutate func()) bool {
	return o.moveTo(gen, to, mutate)
}

// finish moves the run identified by gen to a terminal state.
func (o *Orchestrator) finish(gen uint64, to State, mutate func()) bool {
	ok := o.moveTo(gen, to, mutate)
	if ok {
		o.mu.Lock()
		if o.generation == gen {
			o.cancel = nil
		}
		o.mu.Unlock()
	}
	return ok
}

func (o *Orchestrator) moveTo(gen uint64, to State, mutate func()) bool {
	o.mu.Lock()
	if o.generation != gen {
		o.mu.Unlock()
		return false
	}
	from := o.state
	o.state = to
	if mutate != nil {
		mutate()
	}
	snap := o.snapshotLocked()
	hooks := append([]TransitionHook(nil), o.transitionHooks...)
	o.mu.Unlock()

	o.logger.Debug("pipeline transition", zap.String("from", string(from)), zap.String("to", string(to)))
	o.notify(hooks, Transition{From: from, To: to, Snapshot: snap, Timestamp: time.Now()})
	return true
}

func (o *Orchestrator) notify(hooks []TransitionHook, t Transition) {
	for _, hook := range hooks {
		hook(t)
	}
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.draining = false
	o.mu.Unlock()
}

func (o *Orchestrator) staleError(phase Phase) *PipelineError {
	return NewPipelineError(KindPrecondition, phase, "run was reset", nil)
}

// staleBroadcastError is returned by a reset run whose transaction the relay
// had already accepted.
func (o *Orchestrator) staleBroadcastError(hash common.Hash) *PipelineError {
	o.logger.Warn("run reset after broadcast", zap.String("txHash", hash.Hex()))
	perr := NewPipelineError(KindTrackingFailed, PhaseConfirm, "run was reset after the relay accepted the transaction", nil)
	perr.TxHash = &hash
	perr.Broadcast = true
	return perr
}

func (o *Orchestrator) runFailureHooks(fc FailureContext) {
	o.mu.RLock()
	hooks := append([]FailureHook(nil), o.failureHooks...)
	o.mu.RUnlock()
	for _, hook := range hooks {
		hook(fc)
	}
}

func (o *Orchestrator) snapshotBeforeSignHooks() []BeforeSignHook {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]BeforeSignHook(nil), o.beforeSignHooks...)
}

func (o *Orchestrator) snapshotBeforeRelayHooks() []BeforeRelayHook {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]BeforeRelayHook(nil), o.beforeRelayHooks...)
}

func (o *Orchestrator) clearLocked() {
	o.authorization = nil
	o.handle = nil
	o.receipt = nil
	o.err = nil
	o.phaseErrors = make(map[Phase]*PipelineError)
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	phaseErrors := make(map[Phase]*PipelineError, len(o.phaseErrors))
	for k, v := range o.phaseErrors {
		phaseErrors[k] = v
	}
	return Snapshot{
		State:         o.state,
		Authorization: o.authorization,
		Handle:        o.handle,
		Receipt:       o.receipt,
		Err:           o.err,
		PhaseErrors:   phaseErrors,
		IsLoading:     o.state.InFlight(),
		IsSuccess:     o.state == StateSucceeded,
		IsError:       o.state == StateFailed,
		Draining:      o.draining,
	}
}

// String implements fmt.Stringer for log output.
func (s Snapshot) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s (%s)", s.State, s.Err.Kind)
	}
	return string(s.State)
}
