package wire

import "strings"

// Tool describes one schema-typed operation exported by a module. The
// handler lives server-side (see pkg/toolrpc); only the advertisable part
// travels over the wire in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Resource is a named addressable content object fetched on demand via
// resources/read.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// Prompt is a named prompt template fetched via prompts/get.
type Prompt struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Content is one item of a tools/call result. The first item is always
// {"type": "text", "text": ...}; servers may append further kinds but must
// not change the first-item contract.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextContent builds the standard first content item.
func TextContent(text string) Content {
	return Content{Type: "text", Text: text}
}

// CallToolResult is the result envelope of tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text returns the concatenated text of all text content items. Callers that
// only care about the reply string use this instead of walking Content.
func (r *CallToolResult) Text() string {
	var b strings.Builder
	for _, c := range r.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// ListToolsResult is the result of tools/list.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// ListResourcesResult is the result of resources/list.
type ListResourcesResult struct {
	Resources []Resource `json:"resources"`
}

// ReadResourceResult is the result of resources/read.
type ReadResourceResult struct {
	Contents []Content `json:"contents"`
}

// ListPromptsResult is the result of prompts/list.
type ListPromptsResult struct {
	Prompts []Prompt `json:"prompts"`
}

// GetPromptResult is the result of prompts/get.
type GetPromptResult struct {
	Description string    `json:"description,omitempty"`
	Messages    []Content `json:"messages"`
}

// Info identifies a protocol endpoint during initialize.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// InitializeParams are the parameters of the initialize request.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      Info           `json:"clientInfo"`
}

// InitializeResult is the server's answer to initialize.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      Info           `json:"serverInfo"`
}
