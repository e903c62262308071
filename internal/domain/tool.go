package domain

import (
	"context"
	"encoding/json"
)

// Tool is the interface for actions the model may request.
// Execute reports tool-level failures through ToolResult; a non-nil error is
// reserved for failures of the tool machinery itself.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (ToolResult, error)
}

// ToolResult is fed back to the model as the content of a tool message.
type ToolResult struct {
	Success  bool   `json:"success"`
	Output   string `json:"output,omitempty"`
	Error    string `json:"error,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

func OK(output string) ToolResult {
	return ToolResult{Success: true, Output: output}
}

func Fail(err error) ToolResult {
	return ToolResult{Success: false, Error: err.Error()}
}

// JSON renders the result for the model. Marshalling a ToolResult cannot fail.
func (r ToolResult) JSON() string {
	b, _ := json.Marshal(r)
	return string(b)
}
