package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Relay error codes carried in RelayResponse.Code
const (
	CodeInvalidRequest      = "invalid_request"
	CodeUnsupportedFunction = "unsupported_function"
	CodeChainMismatch       = "chain_mismatch"
	CodeInvalidSignature    = "invalid_signature"
	CodeNonceConflict       = "nonce_conflict"
	CodeRelayFailed         = "relay_failed"
	CodeRateLimited         = "rate_limited"
	CodeNotFound            = "not_found"
)

// Receipt statuses returned by the transactions endpoint
const (
	ReceiptPending  = "pending"
	ReceiptSuccess  = "success"
	ReceiptReverted = "reverted"
)

// Quantity is an integer that arrives as a JSON number or as a decimal or
// 0x-prefixed hex string. It is always emitted as a decimal string.
type Quantity string

// NewQuantity formats n as a Quantity.
func NewQuantity(n *big.Int) Quantity {
	if n == nil {
		return ""
	}
	return Quantity(n.String())
}

// QuantityFromUint64 formats n as a Quantity.
func QuantityFromUint64(n uint64) Quantity {
	return Quantity(strconv.FormatUint(n, 10))
}

// UnmarshalJSON accepts numbers and strings.
func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*q = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*q = Quantity(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("quantity must be a number or string: %w", err)
	}
	*q = Quantity(n.String())
	return nil
}

// MarshalJSON emits the decimal string form.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if q == "" {
		return []byte("null"), nil
	}
	n, err := q.Big()
	if err != nil {
		return nil, err
	}
	return json.Marshal(n.String())
}

// Big parses the quantity.
func (q Quantity) Big() (*big.Int, error) {
	s := string(q)
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	n := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = n.SetString(s[2:], 16)
	} else {
		_, ok = n.SetString(s, 10)
	}
	if !ok {
		return nil, fmt.Errorf("invalid quantity %q", s)
	}
	return n, nil
}

// Uint64 parses the quantity as a uint64.
func (q Quantity) Uint64() (uint64, error) {
	n, err := q.Big()
	if err != nil {
		return 0, err
	}
	if n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("quantity %s out of range", q)
	}
	return n.Uint64(), nil
}

// AuthorizationJSON is the wire form of a signed delegation authorization.
type AuthorizationJSON struct {
	ChainID Quantity `json:"chainId"`
	Address string   `json:"address"`
	Nonce   Quantity `json:"nonce"`
	R       string   `json:"r"`
	S       string   `json:"s"`
	V       Quantity `json:"v"`
	YParity Quantity `json:"yParity"`
}

// RelayRequestBody is the body of POST /relay.
type RelayRequestBody struct {
	SenderAddress string            `json:"senderAddress"`
	Authorization AuthorizationJSON `json:"authorization"`
	ContractABI   json.RawMessage   `json:"contractAbi"`
	FunctionName  string            `json:"functionName"`
	Args          []json.RawMessage `json:"args"`
}

// RelayResponse is the body returned by POST /relay. Exactly one of TxHash
// and Error is set.
type RelayResponse struct {
	TxHash string `json:"txHash,omitempty"`
	Error  string `json:"error,omitempty"`
	Code   string `json:"code,omitempty"`
}

// CallOutcomeJSON is the wire form of one executed call.
type CallOutcomeJSON struct {
	Index   uint64 `json:"index"`
	Target  string `json:"target"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
}

// ReceiptResponse is the body returned by GET /transactions/:hash.
type ReceiptResponse struct {
	TxHash      string            `json:"txHash"`
	Status      string            `json:"status"`
	BlockNumber uint64            `json:"blockNumber,omitempty"`
	ChainID     Quantity          `json:"chainId,omitempty"`
	GasUsed     uint64            `json:"gasUsed,omitempty"`
	Calls       []CallOutcomeJSON `json:"calls,omitempty"`
	Error       string            `json:"error,omitempty"`
	Code        string            `json:"code,omitempty"`
}

// HealthResponse is the body returned by GET /health.
type HealthResponse struct {
	Status      string   `json:"status"`
	ChainID     Quantity `json:"chainId"`
	Relayer     string   `json:"relayer"`
	Executor    string   `json:"executor"`
	BlockNumber uint64   `json:"blockNumber,omitempty"`
}

// ToRelayRequestBody unmarshals bytes to a relay request body
func ToRelayRequestBody(data []byte) (*RelayRequestBody, error) {
	var body RelayRequestBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	return &body, nil
}
