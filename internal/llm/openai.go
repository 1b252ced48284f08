package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"
)

// OpenAITransport streams from any OpenAI-compatible chat completions API.
type OpenAITransport struct {
	client openai.Client
	model  string
}

func NewOpenAITransport(apiKey, baseURL, model string) *OpenAITransport {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAITransport{client: openai.NewClient(opts...), model: model}
}

func (t *OpenAITransport) Name() string {
	return "openai"
}

func (t *OpenAITransport) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := buildOpenAIMessages(withSystemPrompt(req.SystemPrompt, req.Messages))
	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(chooseModel(t.model, req.ModelType)),
		Messages: messages,
	}
	if tools := buildOpenAITools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	return newEventStream(ctx, func(ctx context.Context, emit emitFunc) error {
		stream := t.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !emit(ContentEvent{Text: choice.Delta.Content}) {
						return ctx.Err()
					}
				}
				// Reasoning models behind compatible servers send reasoning_content.
				if reasoning := gjson.Get(choice.Delta.RawJSON(), "reasoning_content"); reasoning.Str != "" {
					if !emit(ThinkingEvent{Text: reasoning.Str}) {
						return ctx.Err()
					}
				}
				for _, call := range choice.Delta.ToolCalls {
					delta := ToolCallDeltaEvent{
						Index:             int(call.Index),
						ID:                call.ID,
						NameFragment:      call.Function.Name,
						ArgumentsFragment: call.Function.Arguments,
					}
					if !emit(delta) {
						return ctx.Err()
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			return &TransportError{Op: "openai stream", Err: err}
		}
		return nil
	}), nil
}

func buildOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, call := range msg.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Name,
						Arguments: call.ArgumentsJSON,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return out
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	if len(specs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := shared.FunctionDefinitionParam{Name: spec.Name}
		if spec.Description != "" {
			fn.Description = openai.String(spec.Description)
		}
		if spec.Schema != nil {
			fn.Parameters = shared.FunctionParameters(spec.Schema)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func chooseModel(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
