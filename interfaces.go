package batchrelay

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// AuthorizationSigner produces a delegation authorization signed by the
// connected account.
type AuthorizationSigner interface {
	// Account returns the address that signs, or the zero address when no
	// wallet is connected.
	Account() common.Address

	// SignAuthorization fetches the account's pending nonce and asks the
	// wallet to sign. It never writes to the network.
	SignAuthorization(ctx context.Context) (*Authorization, error)
}

// RelaySubmitter hands a signed authorization and call to a relay that pays
// gas and broadcasts. Implementations make exactly one attempt.
type RelaySubmitter interface {
	Submit(ctx context.Context, req RelayRequest) (*TransactionHandle, error)
}

// ConfirmationTracker follows a relayed transaction until it is mined or the
// watch fails.
type ConfirmationTracker interface {
	Track(ctx context.Context, handle TransactionHandle) (*Receipt, error)
}

// ReceiptSource is the chain read boundary used while confirming.
type ReceiptSource interface {
	// Receipt returns the receipt for txHash, or nil with no error while the
	// transaction is still pending.
	Receipt(ctx context.Context, txHash common.Hash) (*Receipt, error)

	// BlockNumber returns the current head block.
	BlockNumber(ctx context.Context) (uint64, error)
}

// TransactionLookup is optionally implemented by a ReceiptSource that can
// tell whether a node still knows about a transaction. The tracker uses it to
// detect dropped transactions.
type TransactionLookup interface {
	TransactionKnown(ctx context.Context, txHash common.Hash) (bool, error)
}

// RevertInspector explains why a mined transaction reverted. A
// ReceiptSource may implement it, or it can be set on TrackerConfig. It
// returns a nil cause when no reason can be recovered.
type RevertInspector interface {
	InspectRevert(ctx context.Context, receipt *Receipt) (cause error, err error)
}

// Broadcaster puts a delegated batch on chain using the relay's own key.
type Broadcaster interface {
	Broadcast(ctx context.Context, req BroadcastRequest) (common.Hash, error)
}
