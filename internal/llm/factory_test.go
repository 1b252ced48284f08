package llm

import (
	"context"
	"strings"
	"testing"
)

func TestNewTransport(t *testing.T) {
	tests := []struct {
		cfg     ProviderConfig
		name    string
		wantErr string
	}{
		{cfg: ProviderConfig{Provider: "backend", BackendURL: "http://localhost:8000/api/chat/stream"}, name: "backend"},
		{cfg: ProviderConfig{Provider: "backend"}, wantErr: "requires a URL"},
		{cfg: ProviderConfig{Provider: "openai", APIKey: "sk"}, name: "openai"},
		{cfg: ProviderConfig{Provider: "openai"}, wantErr: "OPENAI_API_KEY"},
		{cfg: ProviderConfig{Provider: "anthropic", APIKey: "sk"}, name: "anthropic"},
		{cfg: ProviderConfig{Provider: "gemini"}, wantErr: "GEMINI_API_KEY"},
		{cfg: ProviderConfig{Provider: "mock"}, name: "mock"},
		{cfg: ProviderConfig{Provider: "pigeon"}, wantErr: "unknown provider"},
	}
	for _, tt := range tests {
		tr, err := NewTransport(tt.cfg)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("NewTransport(%q) error = %v, want %q", tt.cfg.Provider, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewTransport(%q) error = %v", tt.cfg.Provider, err)
		}
		if tr.Name() != tt.name {
			t.Errorf("Name() = %q, want %q", tr.Name(), tt.name)
		}
	}
}

func TestEchoTransportQuotesLastUserMessage(t *testing.T) {
	tr, err := NewTransport(ProviderConfig{Provider: "mock"})
	if err != nil {
		t.Fatal(err)
	}
	stream, err := tr.Stream(context.Background(), Request{Messages: []ChatMessage{
		UserText("first"),
		AssistantText("ok"),
		UserText("tighten the opening paragraph"),
	}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	acc := NewAccumulator(nil)
	for {
		ev, err := stream.Recv()
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		if _, ok := ev.(EndEvent); ok {
			break
		}
		if err := acc.Apply(ev); err != nil {
			t.Fatal(err)
		}
	}
	if got := acc.Result().Text; got != "You said: tighten the opening paragraph" {
		t.Errorf("text = %q", got)
	}
}
