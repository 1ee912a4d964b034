package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"

	"github.com/sweepstack/batchrelay"
)

// ToSetCodeAuthorization converts auth to the tuple carried in a type-4
// transaction's authorization list.
func ToSetCodeAuthorization(auth batchrelay.Authorization) (types.SetCodeAuthorization, error) {
	if auth.ChainID == nil || auth.ChainID.Sign() < 0 {
		return types.SetCodeAuthorization{}, fmt.Errorf("invalid authorization chain id")
	}
	chainID, overflow := uint256.FromBig(auth.ChainID)
	if overflow {
		return types.SetCodeAuthorization{}, fmt.Errorf("authorization chain id overflows uint256")
	}
	if auth.YParity > 1 {
		return types.SetCodeAuthorization{}, fmt.Errorf("invalid authorization yParity %d", auth.YParity)
	}
	return types.SetCodeAuthorization{
		ChainID: *chainID,
		Address: auth.Address,
		Nonce:   auth.Nonce,
		V:       auth.YParity,
		R:       *new(uint256.Int).SetBytes(auth.R[:]),
		S:       *new(uint256.Int).SetBytes(auth.S[:]),
	}, nil
}

// FromSetCodeAuthorization converts a signed authorization tuple back to the
// pipeline form.
func FromSetCodeAuthorization(sc types.SetCodeAuthorization) batchrelay.Authorization {
	chainID := sc.ChainID.ToBig()
	return batchrelay.Authorization{
		ChainID: new(big.Int).Set(chainID),
		Address: sc.Address,
		Nonce:   sc.Nonce,
		R:       common.Hash(sc.R.Bytes32()),
		S:       common.Hash(sc.S.Bytes32()),
		V:       sc.V + legacyRecoveryIDOffset,
		YParity: sc.V,
	}
}

// RecoverSetCodeAuthority returns the account that signed auth as a native
// authorization tuple.
func RecoverSetCodeAuthority(auth batchrelay.Authorization) (common.Address, error) {
	sc, err := ToSetCodeAuthorization(auth)
	if err != nil {
		return common.Address{}, err
	}
	return sc.Authority()
}

// AuthorizedBy reports whether sender signed auth, either over the EIP-712
// typed-data form or as a native authorization tuple.
func AuthorizedBy(auth batchrelay.Authorization, sender common.Address) bool {
	if signer, err := RecoverAuthorizationSigner(auth); err == nil && signer == sender {
		return true
	}
	if authority, err := RecoverSetCodeAuthority(auth); err == nil && authority == sender {
		return true
	}
	return false
}
