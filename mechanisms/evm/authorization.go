package evm

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/sweepstack/batchrelay"
)

// AuthorizationSigner builds and signs delegation authorizations with a
// connected wallet. It implements batchrelay.AuthorizationSigner.
type AuthorizationSigner struct {
	wallet   WalletSigner
	nonces   NonceSource
	chain    ChainIDSource
	chainID  *big.Int
	contract common.Address
	logger   *zap.Logger
}

// SignerOption configures an AuthorizationSigner.
type SignerOption func(*AuthorizationSigner)

// WithChainID pins the chain id instead of asking the wallet.
func WithChainID(chainID *big.Int) SignerOption {
	return func(s *AuthorizationSigner) {
		s.chainID = chainID
	}
}

// WithChainIDSource sets where the chain id is read from.
func WithChainIDSource(source ChainIDSource) SignerOption {
	return func(s *AuthorizationSigner) {
		s.chain = source
	}
}

// WithSignerLogger sets the logger. Default: no-op.
func WithSignerLogger(logger *zap.Logger) SignerOption {
	return func(s *AuthorizationSigner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewAuthorizationSigner creates a signer delegating to contract.
//
// Args:
//
//	wallet: Connected wallet, nil when none is connected
//	nonces: Source of the EOA's pending nonce. When nil, the wallet is used
//	        if it implements NonceSource.
//	contract: Batch executor the EOA's code is delegated to
//
// The chain id comes from WithChainID, then WithChainIDSource, then the
// wallet if it implements ChainIDSource.
func NewAuthorizationSigner(wallet WalletSigner, nonces NonceSource, contract common.Address, opts ...SignerOption) *AuthorizationSigner {
	s := &AuthorizationSigner{
		wallet:   wallet,
		nonces:   nonces,
		contract: contract,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.nonces == nil {
		if ns, ok := wallet.(NonceSource); ok {
			s.nonces = ns
		}
	}
	if s.chain == nil {
		if cs, ok := wallet.(ChainIDSource); ok {
			s.chain = cs
		}
	}
	return s
}

// Account returns the connected wallet address, or the zero address.
func (s *AuthorizationSigner) Account() common.Address {
	if s.wallet == nil {
		return common.Address{}
	}
	return s.wallet.Address()
}

// Contract returns the delegation target.
func (s *AuthorizationSigner) Contract() common.Address {
	return s.contract
}

// SignAuthorization fetches the EOA's pending nonce, asks the wallet for an
// EIP-712 signature over {chainId, contractAddress, nonce} and splits it.
// Nothing is retried and nothing is written to the network.
func (s *AuthorizationSigner) SignAuthorization(ctx context.Context) (*batchrelay.Authorization, error) {
	account := s.Account()
	if account == (common.Address{}) {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "no wallet connected", nil)
	}
	if s.contract == (common.Address{}) {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseSign, "delegation contract address is required", nil)
	}

	chainID, err := s.resolveChainID(ctx)
	if err != nil {
		return nil, err
	}

	if s.nonces == nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindNonceFetchFailed, batchrelay.PhaseSign, "no nonce source configured", nil)
	}
	nonce, err := s.nonces.PendingNonceAt(ctx, account)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindNonceFetchFailed, batchrelay.PhaseSign, "failed to fetch pending nonce", err)
	}

	s.logger.Debug("requesting authorization signature",
		zap.String("account", account.Hex()),
		zap.String("contract", s.contract.Hex()),
		zap.Uint64("nonce", nonce),
		zap.String("chainId", chainID.String()))

	sigBytes, err := s.wallet.SignTypedData(
		ctx,
		AuthorizationDomain(chainID),
		AuthorizationTypes(),
		AuthorizationPrimaryType,
		AuthorizationMessage(chainID, s.contract, nonce),
	)
	if err != nil {
		switch {
		case IsUserRejection(err):
			return nil, batchrelay.NewPipelineError(batchrelay.KindUserRejected, batchrelay.PhaseSign, "signature request rejected", err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "signature request cancelled", err)
		default:
			return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "wallet failed to sign", err)
		}
	}

	sig, err := SplitSignature(sigBytes)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseSign, "wallet returned an invalid signature", err)
	}

	return &batchrelay.Authorization{
		ChainID: new(big.Int).Set(chainID),
		Address: s.contract,
		Nonce:   nonce,
		R:       sig.R,
		S:       sig.S,
		V:       sig.V,
		YParity: sig.YParity,
	}, nil
}

func (s *AuthorizationSigner) resolveChainID(ctx context.Context) (*big.Int, error) {
	if s.chainID != nil {
		return s.chainID, nil
	}
	if s.chain == nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "wallet is not connected to a chain", nil)
	}
	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "failed to read chain id", err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, batchrelay.NewPipelineError(batchrelay.KindSigningUnavailable, batchrelay.PhaseSign, "wallet is not connected to a chain", nil)
	}
	return chainID, nil
}
