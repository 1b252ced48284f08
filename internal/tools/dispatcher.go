package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/samsaffron/storyloom/internal/llm"
)

// DispatchObserver receives per-call progress. Implementations must not block.
type DispatchObserver interface {
	OnToolStart(call llm.AssembledCall)
	OnToolResult(call llm.AssembledCall, result Result)
}

// Result is the outcome of one tool call.
type Result struct {
	CallID   string
	ToolName string
	Output   json.RawMessage // set on success
	Err      error           // set on failure
	Duration time.Duration
}

// Round is everything produced by dispatching one set of tool calls.
type Round struct {
	// Messages holds exactly one tool message per call, in call order.
	Messages       []llm.ChatMessage
	Results        []Result
	ProjectChanged bool
}

// Dispatcher executes tool calls sequentially in declaration order.
type Dispatcher struct {
	caller Caller
	logger *zap.Logger
}

func NewDispatcher(caller Caller, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{caller: caller, logger: logger}
}

// Specs returns the tool specs advertised to the model.
func (d *Dispatcher) Specs() []llm.ToolSpec {
	if d.caller == nil {
		return nil
	}
	return d.caller.Specs()
}

// Dispatch runs calls one at a time. Tool failures never abort the round;
// they become {"error": message} tool messages. If ctx is cancelled the
// remaining calls are not executed, each still gets an error message, and
// ctx.Err() is returned alongside the partial round.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []llm.AssembledCall, sc SessionContext, obs DispatchObserver) (Round, error) {
	round := Round{
		Messages: make([]llm.ChatMessage, 0, len(calls)),
		Results:  make([]Result, 0, len(calls)),
	}
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			for _, rest := range calls[i:] {
				res := Result{CallID: rest.Ref.ID, ToolName: rest.Ref.Name, Err: err}
				round.Results = append(round.Results, res)
				round.Messages = append(round.Messages, toolMessage(res))
			}
			return round, err
		}

		if obs != nil {
			obs.OnToolStart(call)
		}
		res := d.run(ctx, call, sc)
		if res.Err == nil && !d.readOnly(call.Ref.Name) {
			round.ProjectChanged = true
		}
		round.Results = append(round.Results, res)
		round.Messages = append(round.Messages, toolMessage(res))
		if obs != nil {
			obs.OnToolResult(call, res)
		}
	}
	return round, nil
}

func (d *Dispatcher) run(ctx context.Context, call llm.AssembledCall, sc SessionContext) Result {
	res := Result{CallID: call.Ref.ID, ToolName: call.Ref.Name}
	start := time.Now()
	if d.caller == nil {
		res.Err = ErrUnknownTool
		return res
	}
	out, err := d.caller.Call(ctx, Invocation{
		ToolName:       call.Ref.Name,
		Arguments:      call.Args,
		SessionContext: sc,
	})
	res.Duration = time.Since(start)
	if err != nil {
		res.Err = err
		d.logger.Info("tool call failed",
			zap.String("tool", call.Ref.Name),
			zap.String("call_id", call.Ref.ID),
			zap.Duration("duration", res.Duration),
			zap.Error(err))
		return res
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	res.Output = out
	d.logger.Debug("tool call finished",
		zap.String("tool", call.Ref.Name),
		zap.String("call_id", call.Ref.ID),
		zap.Duration("duration", res.Duration))
	return res
}

func (d *Dispatcher) readOnly(name string) bool {
	rep, ok := d.caller.(readOnlyReporter)
	return ok && rep.IsReadOnly(name)
}

func toolMessage(res Result) llm.ChatMessage {
	if res.Err == nil {
		return llm.ToolResultMessage(res.CallID, res.ToolName, string(res.Output))
	}
	return llm.ToolResultMessage(res.CallID, res.ToolName, ErrorJSON(res.Err))
}

// ErrorJSON renders err as the {"error": message} document sent to the model.
func ErrorJSON(err error) string {
	msg := err.Error()
	var terr *ToolError
	if errors.As(err, &terr) {
		msg = terr.Message
	}
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
