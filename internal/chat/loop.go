package chat

import (
	"context"
	"fmt"
	"sync"
)

// DefaultLoopLimit is the number of consecutive tool rounds allowed before
// the user is asked whether to keep going.
const DefaultLoopLimit = 10

// DefaultExtendBy is the number of rounds a bare "continue" adds.
const DefaultExtendBy = 5

// DecisionKind is the user's answer when the loop limit is reached.
type DecisionKind int

const (
	DecisionStop DecisionKind = iota
	DecisionContinue
	DecisionUnlimited
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionStop:
		return "stop"
	case DecisionContinue:
		return "continue"
	case DecisionUnlimited:
		return "unlimited"
	default:
		return fmt.Sprintf("DecisionKind(%d)", int(k))
	}
}

// Decision resolves a suspended loop. Extra is the number of additional
// rounds for DecisionContinue; zero means the controller's default.
type Decision struct {
	Kind  DecisionKind
	Extra int
}

func Stop() Decision          { return Decision{Kind: DecisionStop} }
func Continue(n int) Decision { return Decision{Kind: DecisionContinue, Extra: n} }
func Unlimited() Decision     { return Decision{Kind: DecisionUnlimited} }

// LoopDecider presents the loop-limit choice to a human.
type LoopDecider interface {
	RequestLoopDecision(ctx context.Context, count int) (Decision, error)
}

// LoopDeciderFunc adapts a function to LoopDecider.
type LoopDeciderFunc func(ctx context.Context, count int) (Decision, error)

func (f LoopDeciderFunc) RequestLoopDecision(ctx context.Context, count int) (Decision, error) {
	return f(ctx, count)
}

// LoopState is the controller state.
type LoopState int

const (
	LoopRunning LoopState = iota
	LoopSuspended
)

func (s LoopState) String() string {
	if s == LoopSuspended {
		return "suspended"
	}
	return "running"
}

// PendingDecision is the suspension point returned when the loop limit is
// reached. It is resolved exactly once; later Resolve calls are ignored.
type PendingDecision struct {
	count    int
	once     sync.Once
	done     chan struct{}
	decision Decision
}

func newPendingDecision(count int) *PendingDecision {
	return &PendingDecision{count: count, done: make(chan struct{})}
}

// Count is the number of rounds completed when the loop suspended.
func (p *PendingDecision) Count() int { return p.count }

// Resolve supplies the decision. It reports whether this call resolved p.
func (p *PendingDecision) Resolve(d Decision) bool {
	resolved := false
	p.once.Do(func() {
		p.decision = d
		resolved = true
		close(p.done)
	})
	return resolved
}

// Done is closed once a decision has been supplied.
func (p *PendingDecision) Done() <-chan struct{} { return p.done }

// Wait blocks until the decision is supplied or ctx ends.
func (p *PendingDecision) Wait(ctx context.Context) (Decision, error) {
	select {
	case <-p.done:
		return p.decision, nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// LoopController counts consecutive tool rounds within one turn.
// It is owned by a single orchestrator and is not safe for concurrent use.
type LoopController struct {
	limit     int
	extendBy  int
	count     int
	ceiling   int
	unlimited bool
	state     LoopState
	pending   *PendingDecision
}

// NewLoopController returns a controller. Non-positive values select the defaults.
func NewLoopController(limit, extendBy int) *LoopController {
	if limit <= 0 {
		limit = DefaultLoopLimit
	}
	if extendBy <= 0 {
		extendBy = DefaultExtendBy
	}
	l := &LoopController{limit: limit, extendBy: extendBy}
	l.Reset()
	return l
}

// Reset starts a new turn: counter zero, configured limit, Running.
func (l *LoopController) Reset() {
	l.count = 0
	l.ceiling = l.limit
	l.unlimited = false
	l.state = LoopRunning
	l.pending = nil
}

func (l *LoopController) Count() int       { return l.count }
func (l *LoopController) State() LoopState { return l.state }
func (l *LoopController) Limit() int       { return l.limit }

// Pending returns the open decision while Suspended, nil otherwise.
func (l *LoopController) Pending() *PendingDecision { return l.pending }

// RoundCompleted records one dispatch round. When the ceiling is reached the
// controller suspends and returns the decision the caller must wait on;
// otherwise it returns nil and the loop may continue.
func (l *LoopController) RoundCompleted() *PendingDecision {
	l.count++
	if l.unlimited || l.count < l.ceiling {
		return nil
	}
	l.state = LoopSuspended
	l.pending = newPendingDecision(l.count)
	return l.pending
}

// Apply resumes a suspended controller with d and reports whether the turn
// may issue another streaming request.
func (l *LoopController) Apply(d Decision) bool {
	l.pending = nil
	switch d.Kind {
	case DecisionContinue:
		n := d.Extra
		if n <= 0 {
			n = l.extendBy
		}
		l.ceiling = l.count + n
		l.state = LoopRunning
		return true
	case DecisionUnlimited:
		l.unlimited = true
		l.state = LoopRunning
		return true
	default:
		// Stays Suspended until the next Reset.
		return false
	}
}
