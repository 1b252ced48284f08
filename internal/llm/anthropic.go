package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
	"github.com/tidwall/gjson"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicTransport streams from the Anthropic Messages API.
type AnthropicTransport struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicTransport(apiKey, model string, maxTokens int) *AnthropicTransport {
	limit := int64(maxTokens)
	if limit <= 0 {
		limit = defaultAnthropicMaxTokens
	}
	return &AnthropicTransport{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: limit,
	}
}

func (t *AnthropicTransport) Name() string {
	return "anthropic"
}

func (t *AnthropicTransport) Stream(ctx context.Context, req Request) (Stream, error) {
	system, messages := buildAnthropicMessages(withSystemPrompt(req.SystemPrompt, req.Messages))
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(t.model, req.ModelType)),
		MaxTokens: t.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	return newEventStream(ctx, func(ctx context.Context, emit emitFunc) error {
		stream := t.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			var ev StreamEvent
			switch variant := stream.Current().AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock)
				if !ok {
					continue
				}
				delta := ToolCallDeltaEvent{Index: int(variant.Index), ID: block.ID, NameFragment: block.Name}
				if raw := string(block.Input); raw != "" && raw != "{}" {
					delta.ArgumentsFragment = raw
				}
				ev = delta
			case anthropic.ContentBlockDeltaEvent:
				switch delta := variant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					ev = ContentEvent{Text: delta.Text}
				case anthropic.ThinkingDelta:
					ev = ThinkingEvent{Text: delta.Thinking}
				case anthropic.InputJSONDelta:
					ev = ToolCallDeltaEvent{Index: int(variant.Index), ArgumentsFragment: delta.PartialJSON}
				}
			}
			if ev != nil && !emit(ev) {
				return ctx.Err()
			}
		}
		if err := stream.Err(); err != nil {
			return &TransportError{Op: "anthropic stream", Err: err}
		}
		return nil
	}), nil
}

// buildAnthropicMessages lifts system messages into the system prompt and
// folds consecutive tool results into one user turn.
func buildAnthropicMessages(messages []ChatMessage) (string, []anthropic.MessageParam) {
	var system string
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}

	for _, msg := range messages {
		if msg.Role == RoleTool {
			isError := gjson.Get(msg.Content, "error").Exists()
			results = append(results, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, isError))
			continue
		}
		flush()
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case RoleUser:
			if msg.Content != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		case RoleAssistant:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, json.RawMessage(call.ArgumentsJSON), call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}
	flush()
	return system, out
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   schemaRequired(spec.Schema),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func schemaRequired(schema map[string]interface{}) []string {
	switch v := schema["required"].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
