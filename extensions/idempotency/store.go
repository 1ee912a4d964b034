package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/sweepstack/batchrelay"
)

// SubmissionStatus represents the result of checking the store.
type SubmissionStatus int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound SubmissionStatus = iota
	// StatusCached means a cached submission was found.
	StatusCached
	// StatusInFlight means another request is currently broadcasting.
	StatusInFlight
)

// Submission is the cached outcome of a successful broadcast.
type Submission struct {
	TxHash      common.Hash `json:"txHash"`
	SubmittedAt time.Time   `json:"submittedAt"`
}

// SubmissionStore defines the interface for broadcast idempotency storage.
// Implementations must be safe for concurrent use, and across processes for
// shared backends.
type SubmissionStore interface {
	// CheckAndMark atomically checks the store and marks the key as in-flight if needed.
	//
	// Returns:
	//   - StatusCached + submission: return it immediately
	//   - StatusInFlight: another request is broadcasting, call WaitForResult
	//   - StatusNotFound: this request owns the key and must call Complete or Fail
	CheckAndMark(ctx context.Context, key string) (SubmissionStatus, *Submission, error)

	// WaitForResult waits for an in-flight request to finish.
	//
	// Returns:
	//   - The cached submission if the in-flight request succeeded
	//   - nil if it failed (caller should retry)
	//   - Error if the context was cancelled
	WaitForResult(ctx context.Context, key string) (*Submission, error)

	// Complete caches the submission and releases waiters.
	Complete(ctx context.Context, key string, submission *Submission) error

	// Fail removes the in-flight marker without caching, releasing waiters.
	Fail(ctx context.Context, key string) error
}

// KeyGenerator derives the deduplication key of a broadcast request.
type KeyGenerator func(req batchrelay.BroadcastRequest) string

// DefaultKeyGenerator hashes the sender, the full authorization and the
// calldata with SHA256.
func DefaultKeyGenerator(req batchrelay.BroadcastRequest) string {
	h := sha256.New()
	auth := req.Authorization
	h.Write(req.Sender.Bytes())
	if auth.ChainID != nil {
		h.Write(auth.ChainID.Bytes())
	}
	h.Write(auth.Address.Bytes())
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], auth.Nonce)
	h.Write(nonce[:])
	h.Write(auth.R.Bytes())
	h.Write(auth.S.Bytes())
	h.Write([]byte{auth.YParity})
	h.Write(req.Calldata)
	return hex.EncodeToString(h.Sum(nil))
}
