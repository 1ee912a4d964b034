package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/sweepstack/batchrelay"
)

// HashTypedData returns the EIP-712 signing digest of the given typed data
//
// The hash is computed as: keccak256("\x19\x01" + domainSeparator + structHash)
//
// Args:
//
//	domain: The EIP-712 domain separator parameters
//	types: The type definitions for the structured data
//	primaryType: The name of the primary type being hashed
//	message: The message data to hash
//
// Returns:
//
//	32-byte hash suitable for signing or verification
//	error if hashing fails
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := ToAPITypedData(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// Create EIP-712 digest: 0x19 0x01 <domainSeparator> <dataHash>
	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// ToAPITypedData converts domain, types and message to go-ethereum's
// apitypes form. An EIP712Domain type is derived from the populated domain
// fields when the caller does not supply one.
func ToAPITypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types["EIP712Domain"]; !exists {
		var domainType []apitypes.Type
		if domain.Name != "" {
			domainType = append(domainType, apitypes.Type{Name: "name", Type: "string"})
		}
		if domain.Version != "" {
			domainType = append(domainType, apitypes.Type{Name: "version", Type: "string"})
		}
		if domain.ChainID != nil {
			domainType = append(domainType, apitypes.Type{Name: "chainId", Type: "uint256"})
		}
		if domain.VerifyingContract != "" {
			domainType = append(domainType, apitypes.Type{Name: "verifyingContract", Type: "address"})
		}
		typedData.Types["EIP712Domain"] = domainType
	}

	return typedData
}

// AuthorizationDomain returns the EIP-712 domain of a delegation
// authorization on chainID. It has no verifying contract.
func AuthorizationDomain(chainID *big.Int) TypedDataDomain {
	return TypedDataDomain{
		Name:    AuthorizationDomainName,
		Version: AuthorizationDomainVersion,
		ChainID: chainID,
	}
}

// AuthorizationTypes returns the EIP-712 types of a delegation authorization.
func AuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": {
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
		},
		AuthorizationPrimaryType: {
			{Name: "chainId", Type: "uint256"},
			{Name: "contractAddress", Type: "address"},
			{Name: "nonce", Type: "uint256"},
		},
	}
}

// AuthorizationMessage builds the typed-data message binding contract,
// chainID and nonce.
func AuthorizationMessage(chainID *big.Int, contract common.Address, nonce uint64) map[string]interface{} {
	return map[string]interface{}{
		"chainId":         new(big.Int).Set(chainID),
		"contractAddress": contract.Hex(),
		"nonce":           new(big.Int).SetUint64(nonce),
	}
}

// HashAuthorization returns the digest a wallet signs for a delegation of
// the EOA's code to contract.
func HashAuthorization(chainID *big.Int, contract common.Address, nonce uint64) ([]byte, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required")
	}
	return HashTypedData(
		AuthorizationDomain(chainID),
		AuthorizationTypes(),
		AuthorizationPrimaryType,
		AuthorizationMessage(chainID, contract, nonce),
	)
}

// RecoverAuthorizationSigner returns the EOA that signed auth.
func RecoverAuthorizationSigner(auth batchrelay.Authorization) (common.Address, error) {
	digest, err := HashAuthorization(auth.ChainID, auth.Address, auth.Nonce)
	if err != nil {
		return common.Address{}, err
	}

	sig := make([]byte, signatureLength)
	copy(sig[0:32], auth.R[:])
	copy(sig[32:64], auth.S[:])
	sig[64] = auth.YParity

	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifyAuthorization reports whether auth was signed by expected.
func VerifyAuthorization(auth batchrelay.Authorization, expected common.Address) (bool, error) {
	signer, err := RecoverAuthorizationSigner(auth)
	if err != nil {
		return false, err
	}
	return signer == expected, nil
}
