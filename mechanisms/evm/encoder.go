package evm

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/sweepstack/batchrelay"
)

var (
	erc20ABI    = mustParseABI(ERC20ABI)
	executorABI = mustParseABI(BatchExecutorABI)
)

func mustParseABI(raw []byte) abi.ABI {
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

// Intent is a high-level action that encodes to a single call.
type Intent interface {
	Call() (batchrelay.Call, error)
}

// Transfer moves Amount of Token to To.
type Transfer struct {
	Token  common.Address
	To     common.Address
	Amount *big.Int
}

// Call encodes transfer(to, amount) on the token.
func (t Transfer) Call() (batchrelay.Call, error) {
	if t.To == (common.Address{}) {
		return batchrelay.Call{}, fmt.Errorf("transfer recipient is required")
	}
	if err := checkAmount(t.Amount); err != nil {
		return batchrelay.Call{}, err
	}
	return packERC20(t.Token, FunctionERC20Transfer, t.To, t.Amount)
}

// Approve sets Spender's allowance on Token to Amount.
type Approve struct {
	Token   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Call encodes approve(spender, amount) on the token.
func (a Approve) Call() (batchrelay.Call, error) {
	if a.Spender == (common.Address{}) {
		return batchrelay.Call{}, fmt.Errorf("approve spender is required")
	}
	if err := checkAmount(a.Amount); err != nil {
		return batchrelay.Call{}, err
	}
	return packERC20(a.Token, FunctionERC20Approve, a.Spender, a.Amount)
}

// Revoke removes Spender's allowance on Token.
type Revoke struct {
	Token   common.Address
	Spender common.Address
}

// Call encodes approve(spender, 0) on the token.
func (r Revoke) Call() (batchrelay.Call, error) {
	return Approve{Token: r.Token, Spender: r.Spender, Amount: new(big.Int)}.Call()
}

// RawCall is a pre-encoded call, such as a swap route returned by a quote
// service.
type RawCall struct {
	Target common.Address
	Data   []byte
}

// Call returns the call unchanged.
func (r RawCall) Call() (batchrelay.Call, error) {
	if r.Target == (common.Address{}) {
		return batchrelay.Call{}, fmt.Errorf("call target is required")
	}
	return batchrelay.Call{Target: r.Target, Data: common.CopyBytes(r.Data)}, nil
}

func checkAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("amount is required")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("amount must not be negative: %s", amount)
	}
	return nil
}

func packERC20(token common.Address, method string, args ...interface{}) (batchrelay.Call, error) {
	if token == (common.Address{}) {
		return batchrelay.Call{}, fmt.Errorf("token address is required")
	}
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return batchrelay.Call{}, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	return batchrelay.Call{Target: token, Data: data}, nil
}

// CallEncoder turns intents into a CallBatch and packs executeBatch calldata.
type CallEncoder struct {
	executor abi.ABI
}

// NewCallEncoder creates an encoder for the default batch executor ABI.
func NewCallEncoder() *CallEncoder {
	return &CallEncoder{executor: executorABI}
}

// NewCallEncoderWithABI creates an encoder for a custom executor ABI that
// exposes executeBatch(address[],bytes[]).
func NewCallEncoderWithABI(abiJSON []byte) (*CallEncoder, error) {
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	if _, ok := parsed.Methods[FunctionExecuteBatch]; !ok {
		return nil, fmt.Errorf("ABI has no %s method", FunctionExecuteBatch)
	}
	return &CallEncoder{executor: parsed}, nil
}

// Encode encodes intents in order. Duplicates are kept. An empty intent list
// yields a KindEmptyBatch error.
func (e *CallEncoder) Encode(intents ...Intent) (batchrelay.CallBatch, error) {
	if len(intents) == 0 {
		return nil, batchrelay.NewPipelineError(batchrelay.KindEmptyBatch, batchrelay.PhaseValidate, "no intents to encode", nil)
	}
	batch := make(batchrelay.CallBatch, 0, len(intents))
	for i, intent := range intents {
		if intent == nil {
			return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseValidate, fmt.Sprintf("intent %d is nil", i), nil)
		}
		call, err := intent.Call()
		if err != nil {
			return nil, batchrelay.NewPipelineError(batchrelay.KindPrecondition, batchrelay.PhaseValidate, fmt.Sprintf("intent %d", i), err)
		}
		batch = append(batch, call)
	}
	return batch, nil
}

// PackExecuteBatch packs executeBatch(targets, data) for batch. The two
// arrays always have equal length and batch order.
func (e *CallEncoder) PackExecuteBatch(batch batchrelay.CallBatch) ([]byte, error) {
	if err := batchrelay.ValidateBatch(batch); err != nil {
		return nil, err
	}
	data, err := e.executor.Pack(FunctionExecuteBatch, batch.Targets(), batch.Data())
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", FunctionExecuteBatch, err)
	}
	return data, nil
}

// UnpackExecuteBatch recovers the batch from executeBatch calldata.
func (e *CallEncoder) UnpackExecuteBatch(calldata []byte) (batchrelay.CallBatch, error) {
	method, ok := e.executor.Methods[FunctionExecuteBatch]
	if !ok {
		return nil, fmt.Errorf("ABI has no %s method", FunctionExecuteBatch)
	}
	if len(calldata) < 4 || !bytes.Equal(calldata[:4], method.ID) {
		return nil, fmt.Errorf("calldata is not a %s call", FunctionExecuteBatch)
	}
	values, err := method.Inputs.Unpack(calldata[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", FunctionExecuteBatch, err)
	}
	targets, ok := values[0].([]common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected targets type %T", values[0])
	}
	data, ok := values[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected data type %T", values[1])
	}
	if len(targets) != len(data) {
		return nil, fmt.Errorf("targets and data length mismatch: %d != %d", len(targets), len(data))
	}
	batch := make(batchrelay.CallBatch, len(targets))
	for i := range targets {
		batch[i] = batchrelay.Call{Target: targets[i], Data: data[i]}
	}
	return batch, nil
}

// DecodeERC20Call returns the method name and arguments of ERC-20 calldata.
func DecodeERC20Call(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("calldata too short")
	}
	method, err := erc20ABI.MethodById(data[:4])
	if err != nil {
		return "", nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("failed to unpack %s: %w", method.Name, err)
	}
	return method.Name, args, nil
}
