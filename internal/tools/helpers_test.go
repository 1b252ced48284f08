package tools_test

import (
	"context"
	"encoding/json"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

// staticCaller serves one read-only tool with a fixed result.
type staticCaller struct {
	name   string
	result string
}

func (s *staticCaller) Specs() []llm.ToolSpec {
	return []llm.ToolSpec{{Name: s.name}}
}

func (s *staticCaller) Call(ctx context.Context, inv tools.Invocation) (json.RawMessage, error) {
	return json.RawMessage(s.result), nil
}

func (s *staticCaller) IsReadOnly(name string) bool { return name == s.name }
