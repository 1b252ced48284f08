package llm

import (
	"encoding/json"
	"fmt"
)

// StreamEvent is one decoded step of a model stream. The concrete types are
// ContentEvent, ThinkingEvent, ToolCallDeltaEvent, ErrorEvent and EndEvent.
type StreamEvent interface {
	streamEvent()
}

// ContentEvent carries a fragment of assistant text.
type ContentEvent struct {
	Text string
}

// ThinkingEvent carries a fragment of the reasoning trace.
type ThinkingEvent struct {
	Text string
}

// ToolCallDeltaEvent carries one fragment of the tool call at Index.
type ToolCallDeltaEvent struct {
	Index             int
	ID                string
	NameFragment      string
	ArgumentsFragment string
}

// ErrorEvent reports an explicit error frame from the model backend.
type ErrorEvent struct {
	Err *ProviderError
}

// EndEvent marks the end of the stream.
type EndEvent struct{}

func (ContentEvent) streamEvent()       {}
func (ThinkingEvent) streamEvent()      {}
func (ToolCallDeltaEvent) streamEvent() {}
func (ErrorEvent) streamEvent()         {}
func (EndEvent) streamEvent()           {}

// ProviderError is an error frame sent by the model backend.
type ProviderError struct {
	Message   string
	Status    int
	Traceback string
	Data      json.RawMessage
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return "provider error: " + e.Message
}

// TransportError reports a stream that could not be opened or broke off.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
