package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ProviderConfig selects and configures a Transport.
type ProviderConfig struct {
	Provider string // backend, openai, anthropic, gemini or mock

	BackendURL   string
	BackendToken string

	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	Logger *zap.Logger
}

// NewTransport creates the transport named by cfg.Provider.
func NewTransport(cfg ProviderConfig) (Transport, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch cfg.Provider {
	case "backend", "":
		if cfg.BackendURL == "" {
			return nil, fmt.Errorf("backend provider requires a URL")
		}
		opts := []BackendOption{WithLogger(logger)}
		if cfg.BackendToken != "" {
			opts = append(opts, WithHeader("Authorization", "Bearer "+cfg.BackendToken))
		}
		return NewBackendTransport(cfg.BackendURL, opts...), nil
	case "openai":
		if cfg.APIKey == "" && cfg.BaseURL == "" {
			return nil, fmt.Errorf("openai provider requires an API key (set OPENAI_API_KEY)")
		}
		return NewOpenAITransport(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key (set ANTHROPIC_API_KEY)")
		}
		return NewAnthropicTransport(cfg.APIKey, cfg.Model, cfg.MaxTokens), nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key (set GEMINI_API_KEY)")
		}
		return NewGeminiTransport(cfg.APIKey, cfg.Model, logger), nil
	case "mock":
		return echoTransport{}, nil
	}
	return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
}

// echoTransport answers every request by quoting the last user message.
// It lets the CLI run without any model behind it.
type echoTransport struct{}

func (echoTransport) Name() string { return "mock" }

func (echoTransport) Stream(ctx context.Context, req Request) (Stream, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	reply := fmt.Sprintf("You said: %s", last)
	return newEventStream(ctx, func(ctx context.Context, emit emitFunc) error {
		for _, chunk := range chunkText(reply, 8) {
			if !emit(ContentEvent{Text: chunk}) {
				return ctx.Err()
			}
		}
		return nil
	}), nil
}
