package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/testutil"
	"github.com/samsaffron/storyloom/internal/tools"
)

func TestMain(m *testing.M) {
	// genai pulls in opencensus, whose stats worker starts at init and never exits.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

type recorder struct {
	NopObserver
	mu      sync.Mutex
	texts   []string
	started []string
	rounds  []int
	changed int
	onText  func(soFar string)
	suspend func(pd *PendingDecision)
}

func (r *recorder) OnText(soFar string) {
	r.mu.Lock()
	r.texts = append(r.texts, soFar)
	r.mu.Unlock()
	if r.onText != nil {
		r.onText(soFar)
	}
}

func (r *recorder) OnToolStart(call llm.AssembledCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, call.Ref.Name)
}

func (r *recorder) OnProjectChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed++
}

func (r *recorder) OnRoundComplete(count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rounds = append(r.rounds, count)
}

func (r *recorder) OnLoopSuspended(pd *PendingDecision) {
	if r.suspend != nil {
		r.suspend(pd)
	}
}

func newRegistry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry(nil)
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func TestStartTurn_EndToEnd(t *testing.T) {
	summary := testutil.NewMockTool("update_chapter_summary", map[string]bool{"ok": true})
	transport := llm.NewMockTransport("mock").
		AddTurn(llm.MockTurn{
			Text: "Okay, let me check...",
			ToolCalls: []llm.MockToolCall{{
				ID:        "call_1",
				Name:      "update_chapter_summary",
				Arguments: map[string]any{"summary": "Ada meets the stranger."},
			}},
		}).
		AddTextResponse("I saved the summary for chapter 1.")

	sess := session.New("novel")
	sess.SystemPrompt = "You are a writing assistant."
	o := NewOrchestrator(sess, Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(summary), nil),
	})

	obs := &recorder{}
	res, err := o.StartTurn(context.Background(), "Summarize chapter 1 and save it.", obs)
	require.NoError(t, err)

	assert.Equal(t, "I saved the summary for chapter 1.", res.Text)
	assert.Equal(t, 1, res.Rounds)
	assert.True(t, res.ProjectChanged)
	assert.Equal(t, 1, obs.changed)
	assert.Equal(t, []int{1}, obs.rounds)
	assert.Equal(t, []string{"update_chapter_summary"}, obs.started)
	assert.Equal(t, "Ada meets the stranger.", summary.LastArgs()["summary"])

	want := []llm.ChatMessage{
		llm.UserText("Summarize chapter 1 and save it."),
		llm.AssistantWithCalls("Okay, let me check...", []llm.ToolCallRef{{
			ID: "call_1", Name: "update_chapter_summary", ArgumentsJSON: `{"summary":"Ada meets the stranger."}`,
		}}),
		llm.ToolResultMessage("call_1", "update_chapter_summary", `{"ok":true}`),
		llm.AssistantText("I saved the summary for chapter 1."),
	}
	if diff := cmp.Diff(want, o.Messages()); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, res.Messages); diff != "" {
		t.Errorf("result messages mismatch (-want +got):\n%s", diff)
	}

	require.Equal(t, 2, transport.RequestCount())
	second := transport.Requests[1]
	assert.Len(t, second.Messages, 3)
	assert.Equal(t, "You are a writing assistant.", second.SystemPrompt)
	require.Len(t, second.Tools, 1)
	assert.Equal(t, "update_chapter_summary", second.Tools[0].Name)
	assert.Equal(t, llm.RoleTool, second.Messages[2].Role)
}

func toolTurns(transport *llm.MockTransport, n int) {
	for i := 0; i < n; i++ {
		transport.AddToolCall(fmt.Sprintf("call_%d", i), "list_chapters", map[string]any{})
	}
}

func TestStartTurn_LoopLimitStop(t *testing.T) {
	list := testutil.NewMockTool("list_chapters", []string{"ch-1"})
	transport := llm.NewMockTransport("mock")
	toolTurns(transport, 5)

	var asked []int
	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(list), nil),
		LoopLimit:  3,
		Decider: LoopDeciderFunc(func(ctx context.Context, count int) (Decision, error) {
			asked = append(asked, count)
			return Stop(), nil
		}),
	})

	res, err := o.StartTurn(context.Background(), "list them repeatedly", nil)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, []int{3}, asked)
	assert.Equal(t, 3, transport.RequestCount(), "no 4th request after stop")

	msgs := o.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, llm.RoleTool, last.Role)
	assert.Equal(t, "call_2", last.ToolCallID)
}

func TestStartTurn_LoopLimitContinue(t *testing.T) {
	list := testutil.NewMockTool("list_chapters", []string{"ch-1"})
	transport := llm.NewMockTransport("mock")
	toolTurns(transport, 6)

	decisions := []Decision{Continue(2), Stop()}
	var asked []int
	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(list), nil),
		LoopLimit:  3,
		Decider: LoopDeciderFunc(func(ctx context.Context, count int) (Decision, error) {
			asked = append(asked, count)
			d := decisions[0]
			decisions = decisions[1:]
			return d, nil
		}),
	})

	res, err := o.StartTurn(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, asked)
	assert.Equal(t, 5, res.Rounds)
	assert.Equal(t, 5, transport.RequestCount())
	assert.Equal(t, 5, list.InvocationCount())
}

func TestStartTurn_NilDeciderResolvedByObserver(t *testing.T) {
	list := testutil.NewMockTool("list_chapters", nil)
	transport := llm.NewMockTransport("mock")
	toolTurns(transport, 3)
	transport.AddTextResponse("done")

	var o *Orchestrator
	obs := &recorder{suspend: func(pd *PendingDecision) {
		assert.True(t, o.Resolve(Unlimited()))
	}}
	o = NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(list), nil),
		LoopLimit:  2,
	})

	res, err := o.StartTurn(context.Background(), "go", obs)
	require.NoError(t, err)
	assert.False(t, res.Stopped)
	assert.Equal(t, 3, res.Rounds)
	assert.Equal(t, "done", res.Text)
	assert.False(t, o.Resolve(Stop()), "no decision pending after the turn")
}

func TestStartTurn_NilDeciderStops(t *testing.T) {
	transport := llm.NewMockTransport("mock")
	toolTurns(transport, 2)
	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(testutil.NewMockTool("list_chapters", nil)), nil),
		LoopLimit:  1,
	})
	res, err := o.StartTurn(context.Background(), "go", nil)
	require.NoError(t, err)
	assert.True(t, res.Stopped)
	assert.Equal(t, 1, transport.RequestCount())
}

func TestStartTurn_OrderedCallsWithinRound(t *testing.T) {
	var order []string
	created := false
	create := testutil.NewMockToolWithSchema("create_chapter", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		order = append(order, "create")
		created = true
		return map[string]string{"chapter_id": "ch-2"}, nil
	})
	update := testutil.NewMockToolWithSchema("update_chapter_summary", "", nil, func(ctx context.Context, args map[string]any) (any, error) {
		order = append(order, "update")
		if !created {
			return nil, errors.New("no such chapter")
		}
		return "ok", nil
	})

	transport := llm.NewMockTransport("mock").
		AddTurn(llm.MockTurn{ToolCalls: []llm.MockToolCall{
			{ID: "a", Name: "create_chapter", Arguments: map[string]any{"title": "Dawn"}},
			{ID: "b", Name: "update_chapter_summary", Arguments: map[string]any{"chapter_id": "ch-2"}},
		}}).
		AddTextResponse("Created and summarized.")

	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(create, update), nil),
	})
	_, err := o.StartTurn(context.Background(), "new chapter", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"create", "update"}, order)

	msgs := o.Messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, "a", msgs[2].ToolCallID)
	assert.Equal(t, "b", msgs[3].ToolCallID)
	assert.Equal(t, `"ok"`, msgs[3].Content)
}

func TestStartTurn_CancelMidStreamKeepsPartialText(t *testing.T) {
	const text = "It was a dark and stormy night; the rain fell in torrents, except at occasional intervals."
	tool := testutil.NewMockTool("create_chapter", "never")
	transport := llm.NewMockTransport("mock").WithChunkSize(8).AddTurn(llm.MockTurn{
		Text:      text,
		ToolCalls: []llm.MockToolCall{{ID: "c", Name: "create_chapter"}},
		HoldOpen:  true,
	})

	var o *Orchestrator
	obs := &recorder{onText: func(soFar string) {
		if len(soFar) >= 40 {
			o.Cancel()
		}
	}}
	o = NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(tool), nil),
	})

	res, err := o.StartTurn(context.Background(), "write", obs)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, res.Cancelled)
	assert.Equal(t, 0, tool.InvocationCount())

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleAssistant, msgs[1].Role)
	assert.Equal(t, text[:40], msgs[1].Content)
	assert.Empty(t, msgs[1].ToolCalls)
	assert.Equal(t, text[:40], res.Text)
	assert.False(t, o.Busy())
}

func TestStartTurn_RejectsOverlappingTurn(t *testing.T) {
	transport := llm.NewMockTransport("mock").AddTurn(llm.MockTurn{Text: "thinking...", HoldOpen: true})
	o := NewOrchestrator(session.New(""), Options{Transport: transport})

	done := make(chan error, 1)
	go func() {
		_, err := o.StartTurn(context.Background(), "first", nil)
		done <- err
	}()
	require.Eventually(t, o.Busy, time.Second, time.Millisecond)

	_, err := o.StartTurn(context.Background(), "second", nil)
	assert.ErrorIs(t, err, ErrTurnInProgress)
	_, err = o.Regenerate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrTurnInProgress)

	o.Cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("turn did not stop after Cancel")
	}

	for _, m := range o.Messages() {
		assert.NotEqual(t, "second", m.Content)
	}
}

func TestStartTurn_ProviderErrorKeepsPartialText(t *testing.T) {
	transport := llm.NewMockTransport("mock").AddTurn(llm.MockTurn{
		Text:   "Once upon",
		Events: []llm.StreamEvent{llm.ErrorEvent{Err: &llm.ProviderError{Message: "overloaded", Traceback: "tb"}}},
	})
	o := NewOrchestrator(session.New(""), Options{Transport: transport})

	res, err := o.StartTurn(context.Background(), "tell me a story", nil)
	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "overloaded", perr.Message)
	assert.False(t, res.Cancelled)

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Once upon", msgs[1].Content)
}

func TestStartTurn_TransportOpenError(t *testing.T) {
	transport := llm.NewMockTransport("mock").AddError(errors.New("connection refused"))
	o := NewOrchestrator(session.New(""), Options{Transport: transport})

	_, err := o.StartTurn(context.Background(), "hello", nil)
	require.Error(t, err)
	assert.Len(t, o.Messages(), 1, "only the user message remains")
}

func TestRegenerate(t *testing.T) {
	transport := llm.NewMockTransport("mock").AddTextResponse("first draft").AddTextResponse("second draft")
	o := NewOrchestrator(session.New(""), Options{Transport: transport})

	_, err := o.Regenerate(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoUserMessage)

	_, err = o.StartTurn(context.Background(), "Write an opening line.", nil)
	require.NoError(t, err)

	res, err := o.Regenerate(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second draft", res.Text)
	assert.Equal(t, []llm.ChatMessage{llm.AssistantText("second draft")}, res.Messages)

	want := []llm.ChatMessage{llm.UserText("Write an opening line."), llm.AssistantText("second draft")}
	if diff := cmp.Diff(want, o.Messages()); diff != "" {
		t.Errorf("transcript mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 2, transport.RequestCount())
	assert.Equal(t, []llm.ChatMessage{llm.UserText("Write an opening line.")}, transport.Requests[1].Messages)
}

func TestCounterResetsEachTurn(t *testing.T) {
	list := testutil.NewMockTool("list_chapters", nil)
	transport := llm.NewMockTransport("mock")
	toolTurns(transport, 1)
	transport.AddTextResponse("one")
	toolTurns(transport, 1)
	transport.AddTextResponse("two")

	var asked int
	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(list), nil),
		LoopLimit:  2,
		Decider: LoopDeciderFunc(func(ctx context.Context, count int) (Decision, error) {
			asked++
			return Stop(), nil
		}),
	})
	for _, prompt := range []string{"a", "b"} {
		res, err := o.StartTurn(context.Background(), prompt, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Rounds)
	}
	assert.Zero(t, asked, "one round per turn never reaches a limit of 2")
}

func TestPersistence(t *testing.T) {
	store, err := session.NewSQLiteStore(session.Config{Enabled: true, Path: filepath.Join(t.TempDir(), "s.db")})
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	list := testutil.NewMockTool("list_chapters", []string{"ch-1"})
	transport := llm.NewMockTransport("mock").
		AddToolCall("call_1", "list_chapters", nil).
		AddTextResponse("There is one chapter.").
		AddTextResponse("Just one chapter so far.")

	sess := session.New("stored")
	require.NoError(t, store.Create(ctx, sess))
	o := NewOrchestrator(sess, Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(list), nil),
		Store:      store,
	})

	_, err = o.StartTurn(ctx, "How many chapters?", nil)
	require.NoError(t, err)
	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 4)

	_, err = o.Regenerate(ctx, nil)
	require.NoError(t, err)
	loaded, err = store.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, "Just one chapter so far.", loaded.Messages[1].Content)

	secret := session.New("secret")
	secret.IsIncognito = true
	require.NoError(t, store.Create(ctx, secret))
	transport.AddTextResponse("shh")
	_, err = NewOrchestrator(secret, Options{Transport: transport, Store: store}).StartTurn(ctx, "private", nil)
	require.NoError(t, err)
	_, err = store.Get(ctx, secret.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestStartTurn_ToolArgumentsRepairedBeforeDispatch(t *testing.T) {
	tool := testutil.NewMockTool("rename_chapter", "ok")
	transport := llm.NewMockTransport("mock").
		AddTurn(llm.MockTurn{Events: []llm.StreamEvent{
			llm.ToolCallDeltaEvent{Index: 0, ID: "c1", NameFragment: "rename_chapter"},
			llm.ToolCallDeltaEvent{Index: 0, ArgumentsFragment: `{"title": "Unterminated`},
		}}).
		AddTextResponse("Sorry, retrying.")
	o := NewOrchestrator(session.New(""), Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(newRegistry(tool), nil),
	})

	_, err := o.StartTurn(context.Background(), "rename", nil)
	require.NoError(t, err)
	require.Equal(t, 1, tool.InvocationCount())
	assert.Empty(t, tool.LastArgs())
	msgs := o.Messages()
	assert.Equal(t, "{}", msgs[1].ToolCalls[0].ArgumentsJSON)
	assert.True(t, strings.HasPrefix(msgs[3].Content, "Sorry"))
}
