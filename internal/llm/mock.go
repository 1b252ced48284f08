package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockTurn scripts one streaming call of a MockTransport.
type MockTurn struct {
	Text      string         // streamed in chunks as content events
	Thinking  string         // streamed before Text
	ToolCalls []MockToolCall // streamed after Text as fragmented deltas
	Events    []StreamEvent  // raw events, sent after everything above
	Err       error          // returned by Recv after the events
	Delay     time.Duration  // wait before the first event
	HoldOpen  bool           // after the events, block until the context ends
}

// MockToolCall is a tool call streamed by a MockTurn.
type MockToolCall struct {
	ID        string
	Name      string
	Arguments any
}

// MockTransport replays scripted turns. It records every request it gets.
type MockTransport struct {
	name      string
	chunkSize int

	mu       sync.Mutex
	turns    []MockTurn
	current  int
	Requests []Request
}

func NewMockTransport(name string) *MockTransport {
	return &MockTransport{name: name, chunkSize: 8}
}

// WithChunkSize sets the fragment size used for text and tool arguments.
func (m *MockTransport) WithChunkSize(n int) *MockTransport {
	if n > 0 {
		m.chunkSize = n
	}
	return m
}

func (m *MockTransport) Name() string {
	return m.name
}

func (m *MockTransport) AddTurn(turn MockTurn) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return m
}

func (m *MockTransport) AddTextResponse(text string) *MockTransport {
	return m.AddTurn(MockTurn{Text: text})
}

func (m *MockTransport) AddToolCall(id, name string, args any) *MockTransport {
	return m.AddTurn(MockTurn{ToolCalls: []MockToolCall{{ID: id, Name: name, Arguments: args}}})
}

func (m *MockTransport) AddError(err error) *MockTransport {
	return m.AddTurn(MockTurn{Err: err})
}

// CurrentTurn returns the index of the next turn to be replayed.
func (m *MockTransport) CurrentTurn() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RequestCount returns how many streams have been opened.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = 0
	m.Requests = nil
}

func (m *MockTransport) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	req.Messages = append([]ChatMessage(nil), req.Messages...)
	m.Requests = append(m.Requests, req)
	if m.current >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock transport %s: no turn scripted for request %d", m.name, len(m.Requests))
	}
	turn := m.turns[m.current]
	m.current++
	chunkSize := m.chunkSize
	m.mu.Unlock()

	events, err := turn.events(chunkSize)
	if err != nil {
		return nil, err
	}

	return newEventStream(ctx, func(ctx context.Context, emit emitFunc) error {
		if turn.Delay > 0 {
			timer := time.NewTimer(turn.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		for _, ev := range events {
			if !emit(ev) {
				return ctx.Err()
			}
		}
		if turn.HoldOpen {
			<-ctx.Done()
			return ctx.Err()
		}
		return turn.Err
	}), nil
}

func (t MockTurn) events(chunkSize int) ([]StreamEvent, error) {
	var events []StreamEvent
	for _, chunk := range chunkText(t.Thinking, chunkSize) {
		events = append(events, ThinkingEvent{Text: chunk})
	}
	for _, chunk := range chunkText(t.Text, chunkSize) {
		events = append(events, ContentEvent{Text: chunk})
	}
	for i, call := range t.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal mock tool arguments: %w", err)
		}
		if call.Arguments == nil {
			args = []byte("{}")
		}
		events = append(events, ToolCallDeltaEvent{Index: i, ID: call.ID, NameFragment: call.Name})
		for _, chunk := range chunkText(string(args), chunkSize) {
			events = append(events, ToolCallDeltaEvent{Index: i, ArgumentsFragment: chunk})
		}
	}
	return append(events, t.Events...), nil
}

// chunkText splits text into pieces of at most size bytes, never splitting a rune.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	var chunks []string
	runes := []rune(text)
	var current []rune
	n := 0
	for _, r := range runes {
		rl := len(string(r))
		if n+rl > size && len(current) > 0 {
			chunks = append(chunks, string(current))
			current = current[:0]
			n = 0
		}
		current = append(current, r)
		n += rl
	}
	if len(current) > 0 {
		chunks = append(chunks, string(current))
	}
	return chunks
}
