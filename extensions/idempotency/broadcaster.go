package idempotency

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sweepstack/batchrelay"
)

// IdempotentBroadcaster wraps a Broadcaster with submission idempotency.
//
// It intercepts Broadcast() calls to check for a cached transaction hash
// before paying for a new transaction.
type IdempotentBroadcaster struct {
	inner        batchrelay.Broadcaster
	store        SubmissionStore
	keyGenerator KeyGenerator
}

// Wrap creates an IdempotentBroadcaster around broadcaster.
//
// Default configuration:
//   - InMemoryStore with 10-minute TTL
//   - SHA256 key generator
func Wrap(broadcaster batchrelay.Broadcaster, opts ...Option) *IdempotentBroadcaster {
	cfg := &config{
		ttl:          DefaultTTL,
		keyGenerator: DefaultKeyGenerator,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := cfg.store
	if store == nil {
		store = NewInMemoryStore(cfg.ttl)
	}

	return &IdempotentBroadcaster{
		inner:        broadcaster,
		store:        store,
		keyGenerator: cfg.keyGenerator,
	}
}

// Broadcast broadcasts req once per key.
//
// Before delegating to the wrapped broadcaster, it:
// 1. Generates a key from the request
// 2. Returns the cached hash if one exists
// 3. Waits if another request is already broadcasting the same batch
// 4. Caches successful broadcasts for future requests
//
// Failed broadcasts are NOT cached.
func (b *IdempotentBroadcaster) Broadcast(ctx context.Context, req batchrelay.BroadcastRequest) (common.Hash, error) {
	key := b.keyGenerator(req)

	status, cached, err := b.store.CheckAndMark(ctx, key)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "submission store unavailable", err)
	}

	switch status {
	case StatusCached:
		return cached.TxHash, nil

	case StatusInFlight:
		result, err := b.store.WaitForResult(ctx, key)
		if err != nil {
			return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "gave up waiting for duplicate submission", err)
		}
		if result != nil {
			return result.TxHash, nil
		}
		// The in-flight request failed, try to take the slot.
		return b.Broadcast(ctx, req)

	case StatusNotFound:
	}

	hash, err := b.inner.Broadcast(ctx, req)
	if err != nil {
		// Use a fresh context so a cancelled request does not leave the key locked.
		_ = b.store.Fail(context.WithoutCancel(ctx), key)
		return common.Hash{}, err
	}

	_ = b.store.Complete(context.WithoutCancel(ctx), key, &Submission{TxHash: hash, SubmittedAt: time.Now()})
	return hash, nil
}

// Inner returns the wrapped broadcaster.
func (b *IdempotentBroadcaster) Inner() batchrelay.Broadcaster {
	return b.inner
}

var _ batchrelay.Broadcaster = (*IdempotentBroadcaster)(nil)
