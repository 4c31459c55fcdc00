package outbound

import (
	"encoding/json"

	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// These wire shapes mirror the MCP surface named in spec §6.1: a
// structured CallToolResult with isError + text content blocks for
// callTool, and the plain list/read/get result envelopes for the other
// three surfaces.

// ContentBlock is one element of a CallToolResult's content array.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolCallResult is the result of a tools/call request.
type ToolCallResult struct {
	IsError           bool            `json:"isError,omitempty"`
	Content           []ContentBlock  `json:"content,omitempty"`
	StructuredContent json.RawMessage `json:"structuredContent,omitempty"`
}

// TextError builds the isError:true/content:[text] shape used whenever
// the gateway itself needs to synthesize a failure result rather than
// forward one from a child (spec §4.F callTool, §4.G meta-tools).
func TextError(message string) ToolCallResult {
	return ToolCallResult{IsError: true, Content: []ContentBlock{{Type: "text", Text: message}}}
}

// TextResult builds a plain text content result.
func TextResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

type toolsListResult struct {
	Tools []mesh.ToolSchema `json:"tools"`
}

// Resource describes one MCP resource.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

type resourcesListResult struct {
	Resources []Resource `json:"resources"`
}

// ResourceTemplate describes one MCP resource template.
type ResourceTemplate struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type resourceTemplatesListResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// Prompt describes one MCP prompt.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type promptsListResult struct {
	Prompts []Prompt `json:"prompts"`
}

// ResourceContent is one element of a ReadResourceResult's contents array.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ReadResourceResult is the result of a resources/read request.
type ReadResourceResult struct {
	Contents []ResourceContent `json:"contents"`
}

// PromptMessage is one element of a GetPromptResult's messages array.
type PromptMessage struct {
	Role    string       `json:"role"`
	Content ContentBlock `json:"content"`
}

// GetPromptResult is the result of a prompts/get request.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages,omitempty"`
}
