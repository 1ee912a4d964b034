package mcp

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sweepstack/batchrelay"
)

func decodeArguments(req *mcpsdk.CallToolRequest, out interface{}) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return fmt.Errorf("arguments are required")
	}
	if err := json.Unmarshal(req.Params.Arguments, out); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

func jsonResult(v interface{}) (*mcpsdk.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(raw)}},
	}, nil
}

// errorResult reports a tool failure to the caller. Pipeline errors carry
// their user message so agents can act on them.
func errorResult(err error) *mcpsdk.CallToolResult {
	text := err.Error()
	var perr *batchrelay.PipelineError
	if errors.As(err, &perr) {
		text = fmt.Sprintf("%s (%s)", perr.Error(), perr.UserMessage())
	}
	return &mcpsdk.CallToolResult{
		IsError: true,
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}
}

// textOf concatenates the text content of a tool result.
func textOf(result *mcpsdk.CallToolResult) string {
	var text string
	for _, item := range result.Content {
		if tc, ok := item.(*mcpsdk.TextContent); ok {
			text += tc.Text
		}
	}
	return text
}
