// Package tools dispatches model-issued tool calls to the tool registry.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/samsaffron/storyloom/internal/llm"
)

// ErrUnknownTool is returned when no registry serves the requested tool.
var ErrUnknownTool = errors.New("unknown tool")

// ToolErrorType classifies tool failures.
type ToolErrorType string

const (
	ErrInvalidParams    ToolErrorType = "INVALID_PARAMS"
	ErrExecutionFailed  ToolErrorType = "EXECUTION_FAILED"
	ErrPermissionDenied ToolErrorType = "PERMISSION_DENIED"
	ErrNotFound         ToolErrorType = "NOT_FOUND"
)

// ToolError carries a classified tool failure.
type ToolError struct {
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewToolErrorf creates a new ToolError with formatted message.
func NewToolErrorf(errType ToolErrorType, format string, args ...interface{}) *ToolError {
	return &ToolError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

// SessionContext identifies the chat session a tool call runs on behalf of.
type SessionContext struct {
	SessionID      string `json:"session_id"`
	SessionName    string `json:"session_name,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
	AllowWebSearch bool   `json:"allow_web_search"`
}

// Invocation is a single registry call.
type Invocation struct {
	ToolName       string         `json:"tool_name"`
	Arguments      map[string]any `json:"arguments"`
	SessionContext SessionContext `json:"session_context"`
}

// Caller executes tool invocations. Results are JSON documents.
type Caller interface {
	Specs() []llm.ToolSpec
	Call(ctx context.Context, inv Invocation) (json.RawMessage, error)
}

// Tool is a locally executed tool.
type Tool interface {
	Spec() llm.ToolSpec
	Execute(ctx context.Context, args map[string]any, sc SessionContext) (any, error)
}

// ReadOnlyTool is implemented by tools that never change project state.
type ReadOnlyTool interface {
	ReadOnly() bool
}

// readOnlyReporter is implemented by callers that know which tools mutate.
type readOnlyReporter interface {
	IsReadOnly(name string) bool
}
