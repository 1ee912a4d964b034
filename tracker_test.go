package batchrelay_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweepstack/batchrelay"
)

var testHash = common.HexToHash("0xabc1")

// scriptedSource answers receipt lookups from a per-call script. The last
// step repeats once the script runs out.
type scriptedSource struct {
	mu    sync.Mutex
	steps []sourceStep
	calls int
	head  uint64
}

type sourceStep struct {
	receipt *batchrelay.Receipt
	err     error
}

func (s *scriptedSource) Receipt(ctx context.Context, hash common.Hash) (*batchrelay.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++
	step := s.steps[i]
	if step.receipt != nil {
		r := *step.receipt
		return &r, nil
	}
	return nil, step.err
}

func (s *scriptedSource) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.head, nil
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// lookupSource adds TransactionLookup to a scripted source.
type lookupSource struct {
	*scriptedSource
	known bool
}

func (s *lookupSource) TransactionKnown(ctx context.Context, hash common.Hash) (bool, error) {
	return s.known, nil
}

// fixedInspector reports the same revert cause for every receipt.
type fixedInspector struct {
	cause error
	err   error
	calls int
}

func (i *fixedInspector) InspectRevert(ctx context.Context, receipt *batchrelay.Receipt) (error, error) {
	i.calls++
	return i.cause, i.err
}

// inspectingSource is a scripted source that can also explain reverts.
type inspectingSource struct {
	*scriptedSource
	*fixedInspector
}

func minedReceipt(status batchrelay.ReceiptStatus, block uint64) *batchrelay.Receipt {
	return &batchrelay.Receipt{TxHash: testHash, Status: status, BlockNumber: block}
}

func fastTracker(source batchrelay.ReceiptSource, cfg batchrelay.TrackerConfig) *batchrelay.ReceiptTracker {
	cfg.PollInterval = time.Millisecond
	cfg.MaxPollInterval = 2 * time.Millisecond
	if cfg.MaxWait == 0 {
		cfg.MaxWait = time.Second
	}
	return batchrelay.NewReceiptTracker(source, cfg)
}

func TestReceiptTracker(t *testing.T) {
	handle := batchrelay.TransactionHandle{TxHash: testHash, ChainID: big.NewInt(8453)}

	t.Run("Pending then confirmed", func(t *testing.T) {
		source := &scriptedSource{steps: []sourceStep{{}, {}, {receipt: minedReceipt(batchrelay.ReceiptStatusSuccess, 1000)}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{})

		var states []batchrelay.TrackerState
		tracker.OnStateChange(func(e batchrelay.TrackerEvent) { states = append(states, e.To) })

		receipt, err := tracker.Track(context.Background(), handle)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), receipt.BlockNumber)
		assert.Equal(t, 0, receipt.ChainID.Cmp(big.NewInt(8453)), "chain id is filled from the handle")
		assert.Equal(t, []batchrelay.TrackerState{batchrelay.TrackerPending, batchrelay.TrackerConfirmed}, states)
		assert.Equal(t, batchrelay.TrackerConfirmed, tracker.State())
		assert.Equal(t, 3, source.Calls())
	})

	t.Run("Reverted receipt is returned with a revert error", func(t *testing.T) {
		source := &scriptedSource{steps: []sourceStep{{receipt: minedReceipt(batchrelay.NormalizeStatus("0"), 1001)}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{})

		receipt, err := tracker.Track(context.Background(), handle)
		require.NotNil(t, receipt)
		assert.True(t, errors.Is(err, batchrelay.ErrReverted))
		assert.Equal(t, batchrelay.TrackerReverted, tracker.State())
		assert.Equal(t, 1, source.Calls(), "reverts are never retried")
	})

	t.Run("Revert cause from the inspector is attached", func(t *testing.T) {
		cause := errors.New("call 1 to 0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913 failed")
		inspector := &fixedInspector{cause: cause}
		source := &scriptedSource{steps: []sourceStep{{receipt: minedReceipt(batchrelay.ReceiptStatusReverted, 1001)}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{RevertInspector: inspector})

		_, err := tracker.Track(context.Background(), handle)
		assert.True(t, errors.Is(err, batchrelay.ErrReverted))
		assert.True(t, errors.Is(err, cause))
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, perr.UserMessage(), "call 1 to")
	})

	t.Run("Receipt source that inspects reverts is used by default", func(t *testing.T) {
		cause := errors.New("execution reverted: paused")
		source := &inspectingSource{
			scriptedSource: &scriptedSource{steps: []sourceStep{{receipt: minedReceipt(batchrelay.ReceiptStatusReverted, 1001)}}},
			fixedInspector: &fixedInspector{cause: cause},
		}

		_, err := fastTracker(source, batchrelay.TrackerConfig{}).Track(context.Background(), handle)
		assert.True(t, errors.Is(err, cause))
		assert.Equal(t, 1, source.fixedInspector.calls)
	})

	t.Run("Failed inspection still reports the revert", func(t *testing.T) {
		inspector := &fixedInspector{err: errors.New("archive node required")}
		source := &scriptedSource{steps: []sourceStep{{receipt: minedReceipt(batchrelay.ReceiptStatusReverted, 1001)}}}

		_, err := fastTracker(source, batchrelay.TrackerConfig{RevertInspector: inspector}).Track(context.Background(), handle)
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, batchrelay.KindReverted, perr.Kind)
		assert.Nil(t, perr.Err)
		assert.Equal(t, "The transaction was mined but reverted on chain.", perr.UserMessage())
	})

	t.Run("Successful receipts are not inspected", func(t *testing.T) {
		inspector := &fixedInspector{}
		source := &scriptedSource{steps: []sourceStep{{receipt: minedReceipt(batchrelay.ReceiptStatusSuccess, 1000)}}}

		_, err := fastTracker(source, batchrelay.TrackerConfig{RevertInspector: inspector}).Track(context.Background(), handle)
		require.NoError(t, err)
		assert.Equal(t, 0, inspector.calls)
	})

	t.Run("Waits for confirmations", func(t *testing.T) {
		source := &scriptedSource{
			steps: []sourceStep{{receipt: minedReceipt(batchrelay.ReceiptStatusSuccess, 1000)}},
			head:  1000,
		}
		tracker := fastTracker(source, batchrelay.TrackerConfig{Confirmations: 3})

		go func() {
			time.Sleep(20 * time.Millisecond)
			source.mu.Lock()
			source.head = 1002
			source.mu.Unlock()
		}()

		_, err := tracker.Track(context.Background(), handle)
		require.NoError(t, err)
		assert.Greater(t, source.Calls(), 1)
	})

	t.Run("Transient source errors are tolerated", func(t *testing.T) {
		flaky := errors.New("connection reset")
		source := &scriptedSource{steps: []sourceStep{
			{err: flaky}, {err: flaky}, {receipt: minedReceipt(batchrelay.ReceiptStatusSuccess, 1000)},
		}}
		_, err := fastTracker(source, batchrelay.TrackerConfig{}).Track(context.Background(), handle)
		assert.NoError(t, err)
	})

	t.Run("Persistent source errors fail the watch", func(t *testing.T) {
		source := &scriptedSource{steps: []sourceStep{{err: errors.New("node unavailable")}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{})

		_, err := tracker.Track(context.Background(), handle)
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, batchrelay.KindTrackingFailed, perr.Kind)
		assert.True(t, perr.Broadcast, "the transaction may still land")
		assert.Equal(t, testHash, *perr.TxHash)
		assert.Equal(t, batchrelay.DefaultMaxSourceErrors, source.Calls())
		assert.Equal(t, batchrelay.TrackerErrored, tracker.State())
	})

	t.Run("Unknown transaction is reported as dropped", func(t *testing.T) {
		source := &lookupSource{scriptedSource: &scriptedSource{steps: []sourceStep{{}}}, known: false}
		tracker := fastTracker(source, batchrelay.TrackerConfig{DropGracePeriod: 5 * time.Millisecond})

		_, err := tracker.Track(context.Background(), handle)
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, batchrelay.KindTrackingFailed, perr.Kind)
		assert.Equal(t, "transaction dropped", perr.Message)
		assert.False(t, perr.Broadcast)
	})

	t.Run("Gives up after the maximum wait", func(t *testing.T) {
		source := &scriptedSource{steps: []sourceStep{{}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{MaxWait: 20 * time.Millisecond})

		_, err := tracker.Track(context.Background(), handle)
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, perr.Message, "no receipt after")
		assert.True(t, perr.Broadcast)
	})

	t.Run("Cancellation says the transaction may still land", func(t *testing.T) {
		source := &scriptedSource{steps: []sourceStep{{}}}
		tracker := fastTracker(source, batchrelay.TrackerConfig{})

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := tracker.Track(ctx, handle)
		var perr *batchrelay.PipelineError
		require.True(t, errors.As(err, &perr))
		assert.Contains(t, perr.Message, "may still land")
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}
