package warden

import "fmt"

// TextContent is one block of human-readable tool output.
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolResult is the wire envelope returned to the tool server for every
// invocation. Meta carries the machine-readable outcome.
type ToolResult struct {
	Content []TextContent  `json:"content"`
	Meta    map[string]any `json:"_meta,omitempty"`
	IsError bool           `json:"isError,omitempty"`
}

// textResult builds a single-block result.
func textResult(format string, args ...any) *ToolResult {
	return &ToolResult{
		Content: []TextContent{{Type: "text", Text: fmt.Sprintf(format, args...)}},
	}
}

// errorResult wraps an error for the caller, verbatim.
func errorResult(err error) *ToolResult {
	r := textResult("%v", err)
	r.IsError = true
	return r
}
