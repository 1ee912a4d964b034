package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenBalance is an ERC-20 balance held by the sender.
type TokenBalance struct {
	Token  common.Address
	Amount *big.Int
}

// SweepIntents builds one transfer per non-zero balance, moving everything
// to recipient. Input order is preserved.
func SweepIntents(recipient common.Address, balances []TokenBalance) []Intent {
	intents := make([]Intent, 0, len(balances))
	for _, b := range balances {
		if b.Amount == nil || b.Amount.Sign() <= 0 {
			continue
		}
		intents = append(intents, Transfer{Token: b.Token, To: recipient, Amount: new(big.Int).Set(b.Amount)})
	}
	return intents
}

// RevokeIntents builds one revoke per (token, spender) pair.
func RevokeIntents(token common.Address, spenders ...common.Address) []Intent {
	intents := make([]Intent, len(spenders))
	for i, spender := range spenders {
		intents[i] = Revoke{Token: token, Spender: spender}
	}
	return intents
}
