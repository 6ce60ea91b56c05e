package core

// ToolDefinition describes a callable operation as advertised to the
// protocol layer. InputSchema is a JSON Schema object.
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ToolResult is the outcome of a single tool invocation. Exactly one of
// Text or Err is meaningful; Err is a caller-facing error string that never
// leaks another user's data.
type ToolResult struct {
	Text  string
	IsErr bool
}

// TextResult wraps a successful payload.
func TextResult(text string) *ToolResult {
	return &ToolResult{Text: text}
}

// ErrorResult wraps a caller-facing error string.
func ErrorResult(msg string) *ToolResult {
	return &ToolResult{Text: msg, IsErr: true}
}
