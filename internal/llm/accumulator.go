package llm

import (
	"sort"
	"strings"
)

// ProgressObserver receives the running text and reasoning buffers as they grow.
type ProgressObserver interface {
	OnText(soFar string)
	OnThinking(soFar string)
}

// PendingToolCall is an accumulator slot for the tool call at Index.
type PendingToolCall struct {
	Index      int
	ID         string
	Name       string
	ArgsBuffer string
}

// Accumulated is the accumulator output at end of stream.
type Accumulated struct {
	Text             string
	Thinking         string
	PendingToolCalls []PendingToolCall
}

type pendingSlot struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator merges stream events for one streaming call. It is owned by a
// single turn and is not safe for concurrent use.
type Accumulator struct {
	observer ProgressObserver
	text     strings.Builder
	thinking strings.Builder
	byIndex  map[int]*pendingSlot
	order    []int
}

// NewAccumulator returns an empty accumulator. observer may be nil.
func NewAccumulator(observer ProgressObserver) *Accumulator {
	return &Accumulator{observer: observer, byIndex: make(map[int]*pendingSlot)}
}

// Apply merges one event. An ErrorEvent discards the pending tool calls and
// is returned as its *ProviderError.
func (a *Accumulator) Apply(ev StreamEvent) error {
	switch ev := ev.(type) {
	case ErrorEvent:
		a.byIndex = make(map[int]*pendingSlot)
		a.order = nil
		if ev.Err == nil {
			return &ProviderError{Message: "unknown error"}
		}
		return ev.Err
	case ContentEvent:
		if ev.Text == "" {
			return nil
		}
		a.text.WriteString(ev.Text)
		if a.observer != nil {
			a.observer.OnText(a.text.String())
		}
	case ThinkingEvent:
		if ev.Text == "" {
			return nil
		}
		a.thinking.WriteString(ev.Text)
		if a.observer != nil {
			a.observer.OnThinking(a.thinking.String())
		}
	case ToolCallDeltaEvent:
		a.addToolDelta(ev)
	case EndEvent:
	}
	return nil
}

func (a *Accumulator) addToolDelta(delta ToolCallDeltaEvent) {
	slot, ok := a.byIndex[delta.Index]
	if !ok {
		slot = &pendingSlot{}
		a.byIndex[delta.Index] = slot
		a.order = append(a.order, delta.Index)
	}
	if delta.ID != "" {
		slot.id = delta.ID
	}
	// Some providers resend the complete name on every delta.
	if delta.NameFragment != "" && delta.NameFragment != slot.name {
		slot.name += delta.NameFragment
	}
	if delta.ArgumentsFragment != "" {
		slot.args.WriteString(delta.ArgumentsFragment)
	}
}

// Text returns the content received so far.
func (a *Accumulator) Text() string {
	return a.text.String()
}

// Result returns the buffers with pending calls in index order.
func (a *Accumulator) Result() Accumulated {
	out := Accumulated{Text: a.text.String(), Thinking: a.thinking.String()}
	if len(a.order) == 0 {
		return out
	}
	order := append([]int(nil), a.order...)
	sort.Ints(order)
	out.PendingToolCalls = make([]PendingToolCall, 0, len(order))
	for _, idx := range order {
		slot := a.byIndex[idx]
		out.PendingToolCalls = append(out.PendingToolCalls, PendingToolCall{
			Index:      idx,
			ID:         slot.id,
			Name:       slot.name,
			ArgsBuffer: slot.args.String(),
		})
	}
	return out
}
