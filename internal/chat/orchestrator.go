package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/tools"
)

// Options configures an Orchestrator.
type Options struct {
	Transport  llm.Transport
	Dispatcher *tools.Dispatcher
	// Store receives the transcript after every round. Nil disables
	// persistence; incognito sessions are never written.
	Store session.Store
	// Decider is asked what to do when the loop limit is reached. When nil
	// the decision must already have been given through Resolve or
	// Observer.OnLoopSuspended by the time OnLoopSuspended returns;
	// otherwise the turn stops.
	Decider   LoopDecider
	LoopLimit int
	ExtendBy  int
	Logger    *zap.Logger
}

// Orchestrator drives chat turns for one session. At most one turn runs
// at a time; the session transcript is only changed between steps of that turn.
type Orchestrator struct {
	sess   *session.Session
	opts   Options
	loop   *LoopController
	logger *zap.Logger

	busy    atomic.Bool
	pending atomic.Pointer[PendingDecision]

	mu      sync.Mutex
	cancel  context.CancelFunc
	saved   int  // messages already in the store
	rewrite bool // store needs a full rewrite
}

// NewOrchestrator returns an orchestrator for sess. sess.Messages is
// treated as already persisted.
func NewOrchestrator(sess *session.Session, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = tools.NewDispatcher(nil, logger)
	}
	return &Orchestrator{
		sess:   sess,
		opts:   opts,
		loop:   NewLoopController(opts.LoopLimit, opts.ExtendBy),
		logger: logger.With(zap.String("session", sess.ID)),
		saved:  len(sess.Messages),
	}
}

// Session returns the session this orchestrator drives.
func (o *Orchestrator) Session() *session.Session { return o.sess }

// Busy reports whether a turn is running.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// Messages returns a copy of the transcript.
func (o *Orchestrator) Messages() []llm.ChatMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llm.ChatMessage(nil), o.sess.Messages...)
}

// Cancel aborts the running turn, if any.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
}

// Resolve answers the open loop-limit decision. It reports whether a
// decision was waiting.
func (o *Orchestrator) Resolve(d Decision) bool {
	pd := o.pending.Load()
	return pd != nil && pd.Resolve(d)
}

// StartTurn appends the user message (if text is non-empty) and runs the
// turn to completion. If ctx is cancelled or Cancel is called, the text
// streamed so far stays in the transcript, no further tools run, and the
// context error is returned with Cancelled set.
func (o *Orchestrator) StartTurn(ctx context.Context, text string, obs Observer) (TurnResult, error) {
	ctx, err := o.begin(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	defer o.end()

	o.mu.Lock()
	start := len(o.sess.Messages)
	if text != "" {
		o.sess.Messages = append(o.sess.Messages, llm.UserText(text))
	}
	o.mu.Unlock()

	return o.run(ctx, start, obs)
}

// Regenerate drops everything after the last user message and runs the
// turn again from there.
func (o *Orchestrator) Regenerate(ctx context.Context, obs Observer) (TurnResult, error) {
	ctx, err := o.begin(ctx)
	if err != nil {
		return TurnResult{}, err
	}
	defer o.end()

	o.mu.Lock()
	last := -1
	for i := len(o.sess.Messages) - 1; i >= 0; i-- {
		if o.sess.Messages[i].Role == llm.RoleUser {
			last = i
			break
		}
	}
	if last < 0 {
		o.mu.Unlock()
		return TurnResult{}, ErrNoUserMessage
	}
	o.sess.Messages = o.sess.Messages[:last+1]
	if o.saved > len(o.sess.Messages) {
		o.rewrite = true
	}
	start := len(o.sess.Messages)
	o.mu.Unlock()

	return o.run(ctx, start, obs)
}

// begin marks a turn as running and returns its cancellable context.
func (o *Orchestrator) begin(ctx context.Context) (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		return nil, ErrTurnInProgress
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.busy.Store(true)
	return ctx, nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancel()
	o.cancel = nil
	o.busy.Store(false)
}

func (o *Orchestrator) run(ctx context.Context, start int, obs Observer) (res TurnResult, err error) {
	if obs == nil {
		obs = NopObserver{}
	}
	began := time.Now()
	o.loop.Reset()
	defer func() {
		o.mu.Lock()
		res.Messages = append([]llm.ChatMessage(nil), o.sess.Messages[start:]...)
		o.mu.Unlock()
		o.persist(ctx)
		o.logger.Info("turn finished",
			zap.Int("rounds", res.Rounds),
			zap.Bool("cancelled", res.Cancelled),
			zap.Bool("stopped", res.Stopped),
			zap.Duration("duration", time.Since(began)),
			zap.Error(err))
	}()

	for {
		acc, streamErr := o.streamOnce(ctx, obs)
		res.Text, res.Thinking = acc.Text, acc.Thinking

		if streamErr != nil || ctx.Err() != nil {
			// Keep what was streamed; never dispatch after a failure or cancel.
			if acc.Text != "" {
				o.append(llm.AssistantText(acc.Text))
			}
			if ctx.Err() != nil {
				res.Cancelled = true
				return res, ctx.Err()
			}
			return res, streamErr
		}

		calls := llm.AssembleToolCalls(acc.PendingToolCalls, o.logger)
		if len(calls) == 0 {
			if acc.Text != "" {
				o.append(llm.AssistantText(acc.Text))
			} else {
				o.logger.Debug("model returned an empty reply")
			}
			return res, nil
		}

		refs := make([]llm.ToolCallRef, len(calls))
		for i, c := range calls {
			refs[i] = c.Ref
		}
		o.append(llm.AssistantWithCalls(acc.Text, refs))

		round, dispatchErr := o.opts.Dispatcher.Dispatch(ctx, calls, o.sessionContext(), obs)
		o.append(round.Messages...)
		if round.ProjectChanged {
			res.ProjectChanged = true
			obs.OnProjectChanged()
		}
		o.persist(ctx)
		if dispatchErr != nil {
			res.Cancelled = ctx.Err() != nil
			return res, dispatchErr
		}

		res.Rounds++
		pd := o.loop.RoundCompleted()
		obs.OnRoundComplete(o.loop.Count())
		if pd == nil {
			continue
		}

		d, waitErr := o.decide(ctx, pd, obs)
		if waitErr != nil {
			res.Cancelled = true
			return res, waitErr
		}
		o.logger.Info("loop limit reached", zap.Int("rounds", pd.Count()), zap.Stringer("decision", d.Kind))
		if !o.loop.Apply(d) {
			res.Stopped = true
			return res, nil
		}
	}
}

// streamOnce issues one streaming request and accumulates it. On error the
// returned Accumulated still holds the text streamed before the failure.
func (o *Orchestrator) streamOnce(ctx context.Context, obs Observer) (llm.Accumulated, error) {
	acc := llm.NewAccumulator(obs)
	req := llm.Request{
		Messages:       o.Messages(),
		SystemPrompt:   o.sess.SystemPrompt,
		ModelType:      o.sess.ModelType,
		AllowWebSearch: o.sess.AllowWebSearch,
		Tools:          o.opts.Dispatcher.Specs(),
	}
	o.logger.Debug("streaming request",
		zap.String("transport", o.opts.Transport.Name()),
		zap.Int("messages", len(req.Messages)),
		zap.Int("tools", len(req.Tools)))

	stream, err := o.opts.Transport.Stream(ctx, req)
	if err != nil {
		return acc.Result(), err
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if ctx.Err() != nil {
			return acc.Result(), ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return acc.Result(), nil
		}
		if err != nil {
			return acc.Result(), err
		}
		if _, ok := ev.(llm.EndEvent); ok {
			return acc.Result(), nil
		}
		if err := acc.Apply(ev); err != nil {
			return acc.Result(), err
		}
	}
}

func (o *Orchestrator) decide(ctx context.Context, pd *PendingDecision, obs Observer) (Decision, error) {
	o.pending.Store(pd)
	defer o.pending.Store(nil)
	obs.OnLoopSuspended(pd)

	if o.opts.Decider == nil {
		select {
		case <-pd.Done():
		default:
			pd.Resolve(Stop())
		}
		return pd.Wait(ctx)
	}

	go func() {
		d, err := o.opts.Decider.RequestLoopDecision(ctx, pd.Count())
		if err != nil {
			if ctx.Err() == nil {
				o.logger.Warn("loop decision failed, stopping", zap.Error(err))
			}
			d = Stop()
		}
		pd.Resolve(d)
	}()
	return pd.Wait(ctx)
}

func (o *Orchestrator) append(msgs ...llm.ChatMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sess.Messages = append(o.sess.Messages, msgs...)
}

// persist writes the unsaved part of the transcript. Store failures are
// logged and never fail the turn.
func (o *Orchestrator) persist(ctx context.Context) {
	if o.opts.Store == nil || o.sess.IsIncognito {
		return
	}
	ctx = context.WithoutCancel(ctx)

	o.mu.Lock()
	all := append([]llm.ChatMessage(nil), o.sess.Messages...)
	rewrite, saved := o.rewrite, o.saved
	o.mu.Unlock()

	var err error
	switch {
	case rewrite:
		err = o.opts.Store.ReplaceMessages(ctx, o.sess.ID, all)
	case saved < len(all):
		err = o.opts.Store.AppendMessages(ctx, o.sess.ID, all[saved:])
	default:
		return
	}
	if err != nil {
		o.logger.Warn("failed to save transcript", zap.Error(err))
		return
	}

	o.mu.Lock()
	o.saved = len(all)
	o.rewrite = false
	o.mu.Unlock()
}

func (o *Orchestrator) sessionContext() tools.SessionContext {
	return tools.SessionContext{
		SessionID:      o.sess.ID,
		SessionName:    o.sess.Name,
		ProjectID:      o.sess.ProjectID,
		AllowWebSearch: o.sess.AllowWebSearch,
	}
}
