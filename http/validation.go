package http

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sweepstack/batchrelay/types"
)

// relayRequestSchema describes POST /relay bodies. Quantities may be JSON
// numbers or decimal/hex strings.
const relayRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["senderAddress", "authorization", "contractAbi", "functionName", "args"],
  "properties": {
    "senderAddress": {"$ref": "#/definitions/address"},
    "authorization": {
      "type": "object",
      "required": ["chainId", "address", "nonce", "r", "s", "v", "yParity"],
      "properties": {
        "chainId": {"$ref": "#/definitions/quantity"},
        "address": {"$ref": "#/definitions/address"},
        "nonce": {"$ref": "#/definitions/quantity"},
        "r": {"$ref": "#/definitions/word"},
        "s": {"$ref": "#/definitions/word"},
        "v": {"$ref": "#/definitions/quantity"},
        "yParity": {"$ref": "#/definitions/quantity"}
      }
    },
    "contractAbi": {"type": "array", "minItems": 1},
    "functionName": {"type": "string", "minLength": 1},
    "args": {"type": "array"}
  },
  "definitions": {
    "address": {"type": "string", "pattern": "^0x[0-9a-fA-F]{40}$"},
    "word": {"type": "string", "pattern": "^0x[0-9a-fA-F]{1,64}$"},
    "quantity": {
      "oneOf": [
        {"type": "integer", "minimum": 0},
        {"type": "string", "pattern": "^(0x[0-9a-fA-F]+|[0-9]+)$"}
      ]
    }
  }
}`

var relayRequestSchemaLoader = gojsonschema.NewStringLoader(relayRequestSchema)

// ValidateAndDecodeRelayRequest validates a POST /relay body against the
// request schema and decodes it.
//
// Returns the decoded body if valid, or an error listing every violation.
func ValidateAndDecodeRelayRequest(body []byte) (*types.RelayRequestBody, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("request body is empty")
	}

	result, err := gojsonschema.Validate(relayRequestSchemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("invalid request: not valid JSON - %v", err)
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
		}
		return nil, fmt.Errorf("invalid request: %s", strings.Join(violations, "; "))
	}

	request, err := types.ToRelayRequestBody(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay request: %v", err)
	}
	return request, nil
}
