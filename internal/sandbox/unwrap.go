package sandbox

import (
	"encoding/json"

	"github.com/vmcpmesh/gateway/internal/outbound"
)

// unwrapToolResult turns an MCP tool-call result into the plain value
// a sandboxed script sees: structuredContent if present, else the
// first text content block parsed as JSON, else that block's raw
// text, else the result object itself (spec §4.H).
func unwrapToolResult(result *outbound.ToolCallResult) any {
	if result == nil {
		return nil
	}
	if len(result.StructuredContent) > 0 {
		var structured any
		if err := json.Unmarshal(result.StructuredContent, &structured); err == nil {
			return structured
		}
	}
	if len(result.Content) > 0 && result.Content[0].Type == "text" {
		text := result.Content[0].Text
		var parsed any
		if err := json.Unmarshal([]byte(text), &parsed); err == nil {
			return parsed
		}
		return text
	}
	return result
}
