// Package chat runs chat turns: streaming the model reply, dispatching the
// tool calls it makes and looping until the model answers in plain text.
package chat

import (
	"errors"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

var (
	// ErrTurnInProgress is returned when a turn is started while another
	// turn on the same session is still running.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrNoUserMessage is returned by Regenerate when there is nothing to regenerate.
	ErrNoUserMessage = errors.New("no user message to regenerate from")
)

// Observer receives turn progress. Methods are called on the goroutine
// running the turn and must not block.
type Observer interface {
	OnText(soFar string)
	OnThinking(soFar string)
	OnToolStart(call llm.AssembledCall)
	OnToolResult(call llm.AssembledCall, result tools.Result)
	OnProjectChanged()
	OnRoundComplete(count int)
	OnLoopSuspended(pending *PendingDecision)
}

// NopObserver ignores every callback. Embed it to implement a subset.
type NopObserver struct{}

func (NopObserver) OnText(string)                                {}
func (NopObserver) OnThinking(string)                            {}
func (NopObserver) OnToolStart(llm.AssembledCall)                {}
func (NopObserver) OnToolResult(llm.AssembledCall, tools.Result) {}
func (NopObserver) OnProjectChanged()                            {}
func (NopObserver) OnRoundComplete(int)                          {}
func (NopObserver) OnLoopSuspended(*PendingDecision)             {}

// TurnResult describes a finished turn.
type TurnResult struct {
	// Text is the assistant text of the last streaming request.
	Text     string
	Thinking string
	// Messages are the messages this turn added to the session.
	Messages       []llm.ChatMessage
	Rounds         int
	ProjectChanged bool
	Cancelled      bool
	// Stopped is set when the loop limit was answered with stop.
	Stopped bool
}
