package evm

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// MarshalArgs converts Go call arguments to their JSON wire form: addresses
// and byte strings as 0x-hex, integers as decimal strings.
func MarshalArgs(args []interface{}) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(args))
	for i, arg := range args {
		wire, err := wireValue(arg)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		raw, err := json.Marshal(wire)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out[i] = raw
	}
	return out, nil
}

func wireValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case common.Address:
		return val.Hex(), nil
	case []common.Address:
		out := make([]string, len(val))
		for i, a := range val {
			out[i] = a.Hex()
		}
		return out, nil
	case []byte:
		return hexutil.Encode(val), nil
	case [][]byte:
		out := make([]string, len(val))
		for i, b := range val {
			out[i] = hexutil.Encode(b)
		}
		return out, nil
	case *big.Int:
		if val == nil {
			return nil, fmt.Errorf("nil integer")
		}
		return val.String(), nil
	case common.Hash:
		return val.Hex(), nil
	case string, bool, uint64, int64, int, uint8:
		return val, nil
	case []bool:
		return val, nil
	}
	return nil, fmt.Errorf("unsupported argument type %T", v)
}

// ParseArgs decodes JSON wire arguments into the Go values method's inputs
// expect, so they can be passed to abi.Pack.
func ParseArgs(method abi.Method, raw []json.RawMessage) ([]interface{}, error) {
	if len(raw) != len(method.Inputs) {
		return nil, fmt.Errorf("%s expects %d args, got %d", method.Name, len(method.Inputs), len(raw))
	}
	out := make([]interface{}, len(raw))
	for i, input := range method.Inputs {
		v, err := parseValue(input.Type, raw[i])
		if err != nil {
			return nil, fmt.Errorf("arg %d (%s): %w", i, input.Name, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseValue(t abi.Type, raw json.RawMessage) (interface{}, error) {
	switch t.T {
	case abi.AddressTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case abi.BytesTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		if t.Size != 32 {
			return nil, fmt.Errorf("unsupported fixed bytes size %d", t.Size)
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("expected 32 bytes, got %d", len(b))
		}
		return common.BytesToHash(b), nil
	case abi.UintTy, abi.IntTy:
		n, err := parseInteger(raw)
		if err != nil {
			return nil, err
		}
		return sizedInteger(t, n)
	case abi.BoolTy:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, err
		}
		return b, nil
	case abi.StringTy:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return s, nil
	case abi.SliceTy:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		return parseSlice(*t.Elem, items)
	}
	return nil, fmt.Errorf("unsupported ABI type %s", t.String())
}

func parseSlice(elem abi.Type, items []json.RawMessage) (interface{}, error) {
	switch elem.T {
	case abi.AddressTy:
		out := make([]common.Address, len(items))
		for i, item := range items {
			v, err := parseValue(elem, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v.(common.Address)
		}
		return out, nil
	case abi.BytesTy:
		out := make([][]byte, len(items))
		for i, item := range items {
			v, err := parseValue(elem, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v.([]byte)
		}
		return out, nil
	case abi.BoolTy:
		out := make([]bool, len(items))
		for i, item := range items {
			v, err := parseValue(elem, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v.(bool)
		}
		return out, nil
	case abi.UintTy, abi.IntTy:
		if elem.Size <= 64 {
			break
		}
		out := make([]*big.Int, len(items))
		for i, item := range items {
			v, err := parseValue(elem, item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = v.(*big.Int)
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported slice element type %s", elem.String())
}

func parseInteger(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return nil, fmt.Errorf("invalid integer %s", string(raw))
		}
		s = num.String()
	}
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// sizedInteger returns n as the Go type abi.Pack expects for t: native
// integers for 8, 16, 32 and 64 bits, *big.Int otherwise.
func sizedInteger(t abi.Type, n *big.Int) (interface{}, error) {
	if t.T == abi.UintTy && n.Sign() < 0 {
		return nil, fmt.Errorf("negative value for %s", t.String())
	}
	if n.BitLen() > t.Size {
		return nil, fmt.Errorf("value %s overflows %s", n, t.String())
	}
	if t.T == abi.UintTy {
		switch t.Size {
		case 8:
			return uint8(n.Uint64()), nil
		case 16:
			return uint16(n.Uint64()), nil
		case 32:
			return uint32(n.Uint64()), nil
		case 64:
			return n.Uint64(), nil
		}
		return n, nil
	}
	switch t.Size {
	case 8:
		return int8(n.Int64()), nil
	case 16:
		return int16(n.Int64()), nil
	case 32:
		return int32(n.Int64()), nil
	case 64:
		return n.Int64(), nil
	}
	return n, nil
}
