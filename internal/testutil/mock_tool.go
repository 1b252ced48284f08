package testutil

import (
	"context"
	"sync"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

// MockTool is a configurable tool for testing.
type MockTool struct {
	SpecData  llm.ToolSpec
	ExecuteFn func(ctx context.Context, args map[string]any) (any, error)
	// IsReadOnly is reported through ReadOnly.
	IsReadOnly bool

	mu          sync.Mutex
	Invocations []MockToolInvocation
}

// MockToolInvocation records a single tool invocation.
type MockToolInvocation struct {
	Args    map[string]any
	Session tools.SessionContext
	Result  any
	Error   error
}

// Spec implements tools.Tool.
func (m *MockTool) Spec() llm.ToolSpec {
	return m.SpecData
}

// Execute implements tools.Tool.
func (m *MockTool) Execute(ctx context.Context, args map[string]any, sc tools.SessionContext) (any, error) {
	var (
		result any
		err    error
	)
	if m.ExecuteFn != nil {
		result, err = m.ExecuteFn(ctx, args)
	}
	m.mu.Lock()
	m.Invocations = append(m.Invocations, MockToolInvocation{Args: args, Session: sc, Result: result, Error: err})
	m.mu.Unlock()
	return result, err
}

// ReadOnly implements tools.ReadOnlyTool.
func (m *MockTool) ReadOnly() bool {
	return m.IsReadOnly
}

// NewMockTool creates a mock tool with the given name that returns a fixed result.
func NewMockTool(name string, result any) *MockTool {
	return &MockTool{
		SpecData: llm.ToolSpec{
			Name:        name,
			Description: "Mock tool: " + name,
			Schema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		ExecuteFn: func(ctx context.Context, args map[string]any) (any, error) {
			return result, nil
		},
	}
}

// NewMockToolWithSchema creates a mock tool with a custom schema.
func NewMockToolWithSchema(name, description string, schema map[string]interface{}, executeFn func(ctx context.Context, args map[string]any) (any, error)) *MockTool {
	return &MockTool{
		SpecData: llm.ToolSpec{
			Name:        name,
			Description: description,
			Schema:      schema,
		},
		ExecuteFn: executeFn,
	}
}

// InvocationCount returns the number of times the tool was invoked.
func (m *MockTool) InvocationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Invocations)
}

// LastArgs returns the arguments from the last invocation, or nil if never invoked.
func (m *MockTool) LastArgs() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Invocations) == 0 {
		return nil
	}
	return m.Invocations[len(m.Invocations)-1].Args
}
