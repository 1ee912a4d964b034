package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay"
	batchevm "github.com/sweepstack/batchrelay/mechanisms/evm"
)

const (
	// DefaultGasBufferPercent is added on top of the node's gas estimate.
	DefaultGasBufferPercent = 20

	// delegationIntrinsicGas covers the per-authorization cost the estimate
	// can miss when the node does not simulate the authorization list.
	delegationIntrinsicGas = 25_000
)

// Relayer pays for and broadcasts type-4 transactions on behalf of senders.
// It implements batchrelay.Broadcaster.
type Relayer struct {
	privateKey       *ecdsa.PrivateKey
	address          common.Address
	backend          Backend
	chainID          *big.Int
	gasBufferPercent uint64
	logger           *zap.Logger
}

// RelayerOption configures a Relayer.
type RelayerOption func(*Relayer)

// WithGasBuffer sets the percentage added to gas estimates.
func WithGasBuffer(percent uint64) RelayerOption {
	return func(r *Relayer) {
		r.gasBufferPercent = percent
	}
}

// WithRelayerLogger sets the relayer logger.
func WithRelayerLogger(logger *zap.Logger) RelayerOption {
	return func(r *Relayer) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRelayer creates a relayer that signs with privateKeyHex and submits
// through backend. The chain id is read from the backend once.
//
// Args:
//
//	ctx: Context for the chain id lookup
//	privateKeyHex: Hex-encoded relayer key (with or without "0x" prefix)
//	backend: Node connection, usually *ethclient.Client
//
// Returns:
//
//	Relayer ready to broadcast
//	Error if the key is invalid or the chain id cannot be read
func NewRelayer(ctx context.Context, privateKeyHex string, backend Backend, opts ...RelayerOption) (*Relayer, error) {
	if backend == nil {
		return nil, fmt.Errorf("relayer requires a backend")
	}
	privateKey, err := parsePrivateKey(privateKeyHex)
	if err != nil {
		return nil, err
	}
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}

	r := &Relayer{
		privateKey:       privateKey,
		address:          crypto.PubkeyToAddress(privateKey.PublicKey),
		backend:          backend,
		chainID:          chainID,
		gasBufferPercent: DefaultGasBufferPercent,
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Address returns the account paying for gas.
func (r *Relayer) Address() common.Address {
	return r.address
}

// ChainID returns the chain the relayer submits to.
func (r *Relayer) ChainID() *big.Int {
	return new(big.Int).Set(r.chainID)
}

// Broadcast builds, signs and sends a type-4 transaction that installs the
// authorization on the sender and calls the sender with req.Calldata.
func (r *Relayer) Broadcast(ctx context.Context, req batchrelay.BroadcastRequest) (common.Hash, error) {
	auth := req.Authorization
	if auth.ChainID != nil && auth.ChainID.Sign() != 0 && auth.ChainID.Cmp(r.chainID) != 0 {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseRelay,
			fmt.Sprintf("authorization chain id %s does not match relay chain %s", auth.ChainID, r.chainID), nil)
	}
	tuple, err := batchevm.ToSetCodeAuthorization(auth)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseRelay, "invalid authorization", err)
	}

	// A stale authorization is silently skipped by the chain, which would leave
	// the batch calling an account with no code.
	senderNonce, err := r.backend.PendingNonceAt(ctx, req.Sender)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "failed to read sender nonce", err)
	}
	if senderNonce != auth.Nonce {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindNonceConflict, batchrelay.PhaseRelay,
			fmt.Sprintf("authorization nonce %d, account nonce %d", auth.Nonce, senderNonce), nil)
	}

	nonce, err := r.backend.PendingNonceAt(ctx, r.address)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "failed to read relayer nonce", err)
	}
	tipCap, feeCap, err := r.fees(ctx)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "failed to price transaction", err)
	}

	sender := req.Sender
	estimate, err := r.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:              r.address,
		To:                &sender,
		GasTipCap:         tipCap,
		GasFeeCap:         feeCap,
		Data:              req.Calldata,
		AuthorizationList: []types.SetCodeAuthorization{tuple},
	})
	if err != nil {
		perr := batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "gas estimation failed", err)
		if data, dataErr := revertPayload(err); dataErr == nil {
			if revert, decodeErr := batchevm.DecodeBatchRevert(data); decodeErr == nil {
				perr.Message = "gas estimation failed: " + revert.Error()
			}
		}
		return common.Hash{}, perr
	}
	gas := estimate + estimate*r.gasBufferPercent/100 + delegationIntrinsicGas

	tx := types.NewTx(&types.SetCodeTx{
		ChainID:   uint256.MustFromBig(r.chainID),
		Nonce:     nonce,
		GasTipCap: uint256.MustFromBig(tipCap),
		GasFeeCap: uint256.MustFromBig(feeCap),
		Gas:       gas,
		To:        sender,
		Value:     new(uint256.Int),
		Data:      req.Calldata,
		AuthList:  []types.SetCodeAuthorization{tuple},
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(r.chainID), r.privateKey)
	if err != nil {
		return common.Hash{}, batchrelay.NewPipelineError(batchrelay.KindRelayFailed, batchrelay.PhaseRelay, "failed to sign transaction", err)
	}

	if err := r.backend.SendTransaction(ctx, signed); err != nil {
		kind := batchrelay.KindRelayFailed
		if isNonceError(err) {
			kind = batchrelay.KindNonceConflict
		}
		return common.Hash{}, batchrelay.NewPipelineError(kind, batchrelay.PhaseRelay, "failed to send transaction", err)
	}

	r.logger.Info("relayed batch",
		zap.String("tx", signed.Hash().Hex()),
		zap.String("sender", sender.Hex()),
		zap.String("delegate", auth.Address.Hex()),
		zap.Uint64("gas", gas),
	)
	return signed.Hash(), nil
}

// fees returns the tip and a fee cap of twice the latest base fee plus the tip.
func (r *Relayer) fees(ctx context.Context) (*big.Int, *big.Int, error) {
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tip, feeCap, nil
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced")
}
