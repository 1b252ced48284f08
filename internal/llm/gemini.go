package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiTransport streams from the Gemini API. Gemini delivers function
// calls whole, so each becomes a single tool-call delta.
type GeminiTransport struct {
	apiKey string
	model  string
	logger *zap.Logger
}

func NewGeminiTransport(apiKey, model string, logger *zap.Logger) *GeminiTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiTransport{apiKey: apiKey, model: model, logger: logger}
}

func (t *GeminiTransport) Name() string {
	return "gemini"
}

func (t *GeminiTransport) Stream(ctx context.Context, req Request) (Stream, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  t.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &TransportError{Op: "gemini client", Err: err}
	}

	system, contents := buildGeminiContents(withSystemPrompt(req.SystemPrompt, req.Messages))
	if len(contents) == 0 {
		return nil, fmt.Errorf("no messages provided")
	}
	config := &genai.GenerateContentConfig{
		ThinkingConfig: &genai.ThinkingConfig{IncludeThoughts: true},
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = buildGeminiTools(req.Tools)
	}
	model := chooseModel(t.model, req.ModelType)

	return newEventStream(ctx, func(ctx context.Context, emit emitFunc) error {
		index := 0
		for resp, err := range client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return &TransportError{Op: "gemini stream", Err: err}
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				var ev StreamEvent
				switch {
				case part.FunctionCall != nil:
					ev = ToolCallDeltaEvent{
						Index:             index,
						ID:                part.FunctionCall.ID,
						NameFragment:      part.FunctionCall.Name,
						ArgumentsFragment: geminiArguments(part.FunctionCall, t.logger),
					}
					index++
				case part.Thought && part.Text != "":
					ev = ThinkingEvent{Text: part.Text}
				case part.Text != "":
					ev = ContentEvent{Text: part.Text}
				}
				if ev != nil && !emit(ev) {
					return ctx.Err()
				}
			}
		}
		return nil
	}), nil
}

func buildGeminiContents(messages []ChatMessage) (string, []*genai.Content) {
	var system string
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
		case RoleUser:
			if msg.Content != "" {
				contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
			}
		case RoleAssistant:
			content := &genai.Content{Role: genai.RoleModel}
			if msg.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						ID:   call.ID,
						Name: call.Name,
						Args: argsToMap(call.ArgumentsJSON),
					},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case RoleTool:
			contents = append(contents, &genai.Content{
				Role: genai.RoleUser,
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.Name,
						Response: argsToMap(msg.Content),
					},
				}},
			})
		}
	}
	return system, contents
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 spec.Name,
			Description:          spec.Description,
			ParametersJsonSchema: spec.Schema,
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// argsToMap decodes a JSON object, wrapping anything else as {"output": raw}.
// geminiArguments encodes a function call's arguments. Arguments that cannot
// be encoded are logged and sent as {}.
func geminiArguments(call *genai.FunctionCall, logger *zap.Logger) string {
	if len(call.Args) == 0 {
		return "{}"
	}
	args, err := json.Marshal(call.Args)
	if err != nil {
		logger.Warn("discarding unencodable gemini function arguments",
			zap.String("tool", call.Name),
			zap.Error(err))
		return "{}"
	}
	return string(args)
}

func argsToMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err == nil && m != nil {
		return m
	}
	return map[string]any{"output": raw}
}
