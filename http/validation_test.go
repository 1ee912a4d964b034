package http

import (
	"strings"
	"testing"
)

const validRelayBody = `{
  "senderAddress": "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
  "authorization": {
    "chainId": 8453,
    "address": "0x5d6EBDDD42f3668073b2707b763A201872d6Eca0",
    "nonce": "3",
    "r": "0x1111111111111111111111111111111111111111111111111111111111111111",
    "s": "0x2222222222222222222222222222222222222222222222222222222222222222",
    "v": 27,
    "yParity": 0
  },
  "contractAbi": [{"type": "function", "name": "executeBatch", "inputs": []}],
  "functionName": "executeBatch",
  "args": [[], []]
}`

func TestValidateAndDecodeRelayRequest(t *testing.T) {
	t.Run("Valid body decodes", func(t *testing.T) {
		body, err := ValidateAndDecodeRelayRequest([]byte(validRelayBody))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if body.FunctionName != "executeBatch" {
			t.Errorf("expected executeBatch, got %q", body.FunctionName)
		}
		if body.Authorization.ChainID != "8453" {
			t.Errorf("expected chainId 8453, got %q", body.Authorization.ChainID)
		}
		if len(body.Args) != 2 {
			t.Errorf("expected 2 args, got %d", len(body.Args))
		}
	})

	t.Run("Empty body", func(t *testing.T) {
		_, err := ValidateAndDecodeRelayRequest(nil)
		if err == nil || err.Error() != "request body is empty" {
			t.Errorf("expected empty body error, got %v", err)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		_, err := ValidateAndDecodeRelayRequest([]byte("{invalid json}"))
		if err == nil || !strings.HasPrefix(err.Error(), "invalid request: not valid JSON") {
			t.Errorf("expected JSON error, got %v", err)
		}
	})

	t.Run("Schema violations", func(t *testing.T) {
		tests := []struct {
			name    string
			body    string
			mention string
		}{
			{
				name:    "missing authorization",
				body:    strings.Replace(validRelayBody, `"authorization"`, `"auth"`, 1),
				mention: "authorization",
			},
			{
				name:    "bad sender address",
				body:    strings.Replace(validRelayBody, "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23", "0x1234", 1),
				mention: "senderAddress",
			},
			{
				name:    "negative nonce",
				body:    strings.Replace(validRelayBody, `"nonce": "3"`, `"nonce": -1`, 1),
				mention: "nonce",
			},
			{
				name:    "empty function name",
				body:    strings.Replace(validRelayBody, `"functionName": "executeBatch"`, `"functionName": ""`, 1),
				mention: "functionName",
			},
			{
				name:    "args not an array",
				body:    strings.Replace(validRelayBody, `"args": [[], []]`, `"args": {}`, 1),
				mention: "args",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ValidateAndDecodeRelayRequest([]byte(tt.body))
				if err == nil {
					t.Fatal("expected error but got none")
				}
				if !strings.HasPrefix(err.Error(), "invalid request: ") {
					t.Errorf("expected schema error, got %q", err.Error())
				}
				if !strings.Contains(err.Error(), tt.mention) {
					t.Errorf("expected error to mention %q, got %q", tt.mention, err.Error())
				}
			})
		}
	})
}
