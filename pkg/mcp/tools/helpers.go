package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// trimString removes leading and trailing whitespace from a string.
func trimString(s string) string {
	return strings.TrimSpace(s)
}

func arguments(req mcp.CallToolRequest) map[string]any {
	if args, ok := req.Params.Arguments.(map[string]any); ok {
		return args
	}
	return nil
}

// getOptionalString extracts an optional string argument from the request.
func getOptionalString(req mcp.CallToolRequest, key string) string {
	val, _ := arguments(req)[key].(string)
	return trimString(val)
}

// getOptionalBool extracts an optional boolean argument from the request.
func getOptionalBool(req mcp.CallToolRequest, key string) (bool, bool) {
	val, ok := arguments(req)[key].(bool)
	return val, ok
}

// getOptionalInt extracts an optional integer argument. JSON numbers arrive
// as float64; fractional values are rejected.
func getOptionalInt(req mcp.CallToolRequest, key string) (int, error) {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return 0, nil
	}
	f, ok := raw.(float64)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if f < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return int(f), nil
}

// getStringSlice extracts an optional array of strings, skipping blanks.
func getStringSlice(req mcp.CallToolRequest, key string) []string {
	items, _ := arguments(req)[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && trimString(s) != "" {
			out = append(out, trimString(s))
		}
	}
	return out
}

// decodeArgument re-decodes a structured argument into out.
func decodeArgument(req mcp.CallToolRequest, key string, out any) error {
	raw, ok := arguments(req)[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", key, err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("%s is malformed: %w", key, err)
	}
	return nil
}

// jsonResult marshals v into a text tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}
