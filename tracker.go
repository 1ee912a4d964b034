package batchrelay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// TrackerState is the lifecycle of a confirmation watch.
type TrackerState string

const (
	TrackerIdle      TrackerState = "idle"
	TrackerPending   TrackerState = "pending"
	TrackerConfirmed TrackerState = "confirmed"
	TrackerReverted  TrackerState = "reverted"
	TrackerErrored   TrackerState = "errored"
)

// Terminal reports whether no further transitions happen from s.
func (s TrackerState) Terminal() bool {
	return s == TrackerConfirmed || s == TrackerReverted || s == TrackerErrored
}

// Tracker defaults
const (
	DefaultConfirmations   = 1
	DefaultPollInterval    = time.Second
	DefaultMaxPollInterval = 8 * time.Second
	DefaultMaxWait         = 5 * time.Minute
	DefaultDropGracePeriod = 2 * time.Minute
	DefaultMaxSourceErrors = 3
)

// TrackerConfig tunes polling. Zero values take the defaults above.
type TrackerConfig struct {
	Confirmations   uint64
	PollInterval    time.Duration
	MaxPollInterval time.Duration
	MaxWait         time.Duration
	// DropGracePeriod is how long a transaction may be unknown to the node
	// before it is reported as dropped. Only used when the receipt source
	// implements TransactionLookup.
	DropGracePeriod time.Duration
	// MaxSourceErrors is the number of consecutive receipt source failures
	// tolerated before the watch fails.
	MaxSourceErrors int
	// RevertInspector decodes the reason of a reverted receipt. It defaults
	// to the receipt source when that implements RevertInspector.
	RevertInspector RevertInspector
	Logger          *zap.Logger
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	if c.Confirmations == 0 {
		c.Confirmations = DefaultConfirmations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.MaxWait <= 0 {
		c.MaxWait = DefaultMaxWait
	}
	if c.DropGracePeriod <= 0 {
		c.DropGracePeriod = DefaultDropGracePeriod
	}
	if c.MaxSourceErrors <= 0 {
		c.MaxSourceErrors = DefaultMaxSourceErrors
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// TrackerEvent is delivered to listeners on every state change.
type TrackerEvent struct {
	From    TrackerState
	To      TrackerState
	TxHash  common.Hash
	Receipt *Receipt
	Err     error
}

// TrackerListener observes tracker transitions.
type TrackerListener func(TrackerEvent)

var errStillPending = errors.New("transaction still pending")

// ReceiptTracker polls a ReceiptSource until the tracked transaction reaches
// the configured number of confirmations.
type ReceiptTracker struct {
	source ReceiptSource
	cfg    TrackerConfig

	mu        sync.RWMutex
	state     TrackerState
	txHash    common.Hash
	receipt   *Receipt
	err       error
	listeners []TrackerListener
}

// NewReceiptTracker creates a tracker in the Idle state.
func NewReceiptTracker(source ReceiptSource, cfg TrackerConfig) *ReceiptTracker {
	if cfg.RevertInspector == nil {
		if inspector, ok := source.(RevertInspector); ok {
			cfg.RevertInspector = inspector
		}
	}
	return &ReceiptTracker{
		source: source,
		cfg:    cfg.withDefaults(),
		state:  TrackerIdle,
	}
}

// OnStateChange registers a listener. Listeners run synchronously on the
// tracking goroutine, in registration order.
func (t *ReceiptTracker) OnStateChange(l TrackerListener) *ReceiptTracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
	return t
}

// State returns the current state.
func (t *ReceiptTracker) State() TrackerState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Receipt returns the terminal receipt, if any.
func (t *ReceiptTracker) Receipt() *Receipt {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.receipt
}

// Err returns the watch error when the state is Errored or Reverted.
func (t *ReceiptTracker) Err() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.err
}

// Track moves to Pending immediately, then polls until the transaction is
// confirmed, reverted, or the watch fails. A reverted receipt is returned
// together with a KindReverted error whose cause is the decoded revert when
// a RevertInspector can recover it. Reverted transactions are never retried.
func (t *ReceiptTracker) Track(ctx context.Context, handle TransactionHandle) (*Receipt, error) {
	hash := handle.TxHash
	t.transition(TrackerPending, hash, nil, nil)

	receipt, err := t.poll(ctx, hash)
	if err != nil {
		perr := t.watchError(ctx, hash, err)
		t.transition(TrackerErrored, hash, nil, perr)
		return nil, perr
	}

	if receipt.ChainID == nil && handle.ChainID != nil {
		receipt.ChainID = handle.ChainID
	}

	if receipt.Status != ReceiptStatusSuccess {
		h := hash
		perr := &PipelineError{
			Kind:      KindReverted,
			Phase:     PhaseConfirm,
			Message:   fmt.Sprintf("transaction reverted in block %d", receipt.BlockNumber),
			TxHash:    &h,
			Broadcast: true,
			Err:       t.inspectRevert(ctx, receipt),
		}
		t.transition(TrackerReverted, hash, receipt, perr)
		return receipt, perr
	}

	t.transition(TrackerConfirmed, hash, receipt, nil)
	return receipt, nil
}

func (t *ReceiptTracker) poll(ctx context.Context, hash common.Hash) (*Receipt, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.PollInterval
	b.MaxInterval = t.cfg.MaxPollInterval
	b.MaxElapsedTime = t.cfg.MaxWait
	b.Multiplier = 1.5
	b.RandomizationFactor = 0.1

	lookup, canLookup := t.source.(TransactionLookup)
	var (
		result       *Receipt
		sourceErrors int
		unknownSince time.Time
	)

	op := func() error {
		receipt, err := t.source.Receipt(ctx, hash)
		if err != nil {
			sourceErrors++
			t.cfg.Logger.Debug("receipt lookup failed",
				zap.String("txHash", hash.Hex()),
				zap.Int("consecutiveErrors", sourceErrors),
				zap.Error(err))
			if sourceErrors >= t.cfg.MaxSourceErrors {
				return backoff.Permanent(fmt.Errorf("receipt source: %w", err))
			}
			return err
		}
		sourceErrors = 0

		if receipt == nil {
			if canLookup {
				known, lerr := lookup.TransactionKnown(ctx, hash)
				if lerr == nil && !known {
					if unknownSince.IsZero() {
						unknownSince = time.Now()
					} else if time.Since(unknownSince) >= t.cfg.DropGracePeriod {
						return backoff.Permanent(errDropped)
					}
				} else if lerr == nil {
					unknownSince = time.Time{}
				}
			}
			return errStillPending
		}

		if t.cfg.Confirmations > 1 {
			head, err := t.source.BlockNumber(ctx)
			if err != nil {
				return err
			}
			if head < receipt.BlockNumber || head-receipt.BlockNumber+1 < t.cfg.Confirmations {
				return errStillPending
			}
		}

		result = receipt
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (t *ReceiptTracker) inspectRevert(ctx context.Context, receipt *Receipt) error {
	if t.cfg.RevertInspector == nil {
		return nil
	}
	cause, err := t.cfg.RevertInspector.InspectRevert(ctx, receipt)
	if err != nil {
		t.cfg.Logger.Debug("revert inspection failed",
			zap.String("txHash", receipt.TxHash.Hex()),
			zap.Error(err))
		return nil
	}
	return cause
}

var errDropped = errors.New("transaction dropped from the mempool")

func (t *ReceiptTracker) watchError(ctx context.Context, hash common.Hash, err error) *PipelineError {
	h := hash
	perr := &PipelineError{
		Kind:      KindTrackingFailed,
		Phase:     PhaseConfirm,
		TxHash:    &h,
		Broadcast: true,
		Err:       err,
	}
	switch {
	case ctx.Err() != nil:
		perr.Message = "confirmation watch cancelled, transaction may still land"
		perr.Err = ctx.Err()
	case errors.Is(err, errStillPending):
		perr.Message = fmt.Sprintf("no receipt after %s", t.cfg.MaxWait)
		perr.Err = nil
	case errors.Is(err, errDropped):
		perr.Message = "transaction dropped"
		perr.Broadcast = false
	default:
		perr.Message = "confirmation watch failed"
	}
	return perr
}

func (t *ReceiptTracker) transition(to TrackerState, hash common.Hash, receipt *Receipt, err error) {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.txHash = hash
	t.receipt = receipt
	t.err = err
	listeners := append([]TrackerListener(nil), t.listeners...)
	t.mu.Unlock()

	t.cfg.Logger.Debug("tracker transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("txHash", hash.Hex()))

	event := TrackerEvent{From: from, To: to, TxHash: hash, Receipt: receipt, Err: err}
	for _, l := range listeners {
		l(event)
	}
}
