package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// EIP-712 domain of the delegation authorization
	AuthorizationDomainName    = "EIP-7702 Authorization"
	AuthorizationDomainVersion = "1"
	AuthorizationPrimaryType   = "Authorization"

	// Batch executor function, error and event names
	FunctionExecuteBatch    = "executeBatch"
	ErrorCallFailed         = "CallFailed"
	ErrorInvalidInputLength = "InvalidInputLength"
	EventCallExecuted       = "CallExecuted"
	EventCallResult         = "CallResult"

	// ERC-20 function names
	FunctionERC20Transfer  = "transfer"
	FunctionERC20Approve   = "approve"
	FunctionERC20BalanceOf = "balanceOf"
	FunctionERC20Allowance = "allowance"

	// EIP1193UserRejectedCode is the provider error code for a rejected request
	EIP1193UserRejectedCode = 4001
)

const (
	signatureLength        = 65
	legacyRecoveryIDOffset = 27
)

var (
	// DefaultBatchExecutorAddress is the deployed batch executor on Base.
	DefaultBatchExecutorAddress = common.HexToAddress("0x5d6EBDDD42f3668073b2707b763A201872d6Eca0")

	// Network chain IDs
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// Well-known tokens on Base
	USDCBase = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	USDTBase = common.HexToAddress("0xfde4c96c8593536e31f229ea8f37b2ada2699bb2")

	// BatchExecutorABI is the ABI of the delegation target. A failing inner
	// call reverts the whole batch with CallFailed.
	BatchExecutorABI = []byte(`[
		{
			"inputs": [
				{"name": "index", "type": "uint256"},
				{"name": "target", "type": "address"},
				{"name": "data", "type": "bytes"}
			],
			"name": "CallFailed",
			"type": "error"
		},
		{
			"inputs": [
				{"name": "targetsLength", "type": "uint256"},
				{"name": "dataLength", "type": "uint256"}
			],
			"name": "InvalidInputLength",
			"type": "error"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "index", "type": "uint256"},
				{"indexed": true, "name": "target", "type": "address"},
				{"indexed": false, "name": "data", "type": "bytes"},
				{"indexed": false, "name": "result", "type": "bytes"}
			],
			"name": "CallExecuted",
			"type": "event"
		},
		{
			"anonymous": false,
			"inputs": [
				{"indexed": true, "name": "index", "type": "uint256"},
				{"indexed": true, "name": "target", "type": "address"},
				{"indexed": false, "name": "data", "type": "bytes"},
				{"indexed": false, "name": "success", "type": "bool"},
				{"indexed": false, "name": "result", "type": "bytes"}
			],
			"name": "CallResult",
			"type": "event"
		},
		{
			"inputs": [
				{"name": "targets", "type": "address[]"},
				{"name": "data", "type": "bytes[]"}
			],
			"name": "executeBatch",
			"outputs": [
				{"name": "results", "type": "bytes[]"},
				{"name": "successes", "type": "bool[]"}
			],
			"stateMutability": "nonpayable",
			"type": "function"
		}
	]`)

	// ERC20ABI covers the token calls a batch is built from.
	ERC20ABI = []byte(`[
		{
			"inputs": [
				{"name": "to", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "transfer",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "spender", "type": "address"},
				{"name": "amount", "type": "uint256"}
			],
			"name": "approve",
			"outputs": [{"name": "", "type": "bool"}],
			"stateMutability": "nonpayable",
			"type": "function"
		},
		{
			"inputs": [{"name": "account", "type": "address"}],
			"name": "balanceOf",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		},
		{
			"inputs": [
				{"name": "owner", "type": "address"},
				{"name": "spender", "type": "address"}
			],
			"name": "allowance",
			"outputs": [{"name": "", "type": "uint256"}],
			"stateMutability": "view",
			"type": "function"
		}
	]`)
)
