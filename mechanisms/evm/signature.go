package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// SplitSignature splits a 65-byte r || s || v signature.
//
// Wallets return v as 27/28; raw recovery ids 0/1 are accepted and
// normalized to 27/28. yParity is 0 for v == 27 and 1 for v == 28. Any other
// v is rejected.
func SplitSignature(sig []byte) (Signature, error) {
	if len(sig) != signatureLength {
		return Signature{}, fmt.Errorf("invalid signature length: expected %d bytes, got %d", signatureLength, len(sig))
	}

	v := sig[64]
	if v == 0 || v == 1 {
		v += legacyRecoveryIDOffset
	}
	if v != legacyRecoveryIDOffset && v != legacyRecoveryIDOffset+1 {
		return Signature{}, fmt.Errorf("invalid signature v value: %d", sig[64])
	}

	return Signature{
		R:       common.BytesToHash(sig[0:32]),
		S:       common.BytesToHash(sig[32:64]),
		V:       v,
		YParity: YParityFromV(v),
	}, nil
}

// YParityFromV derives the y-parity bit from a 27/28 v value.
func YParityFromV(v uint8) uint8 {
	if v == legacyRecoveryIDOffset {
		return 0
	}
	return 1
}
