package llm

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrMalformedPayload marks a frame payload that could not be decoded and
// carried no recognizable error. Callers drop such frames.
var ErrMalformedPayload = errors.New("malformed stream payload")

const maxErrorExcerpt = 500

// ParsePayload decodes one frame payload into stream events.
//
// A payload is handled by the first field present, in order: error, content,
// thinking, tool_calls. A payload that is not valid JSON returns a
// *ProviderError when it looks like an error report and ErrMalformedPayload
// otherwise.
func ParsePayload(raw string) ([]StreamEvent, error) {
	if !gjson.Valid(raw) {
		if perr := salvageError(raw); perr != nil {
			return nil, perr
		}
		return nil, ErrMalformedPayload
	}

	root := gjson.Parse(raw)
	if !root.IsObject() {
		return nil, ErrMalformedPayload
	}

	if errField := root.Get("error"); errField.Exists() && errField.Type != gjson.Null {
		return nil, providerErrorFrom(root, errField)
	}
	if text := nonEmptyString(root.Get("content")); text != "" {
		return []StreamEvent{ContentEvent{Text: text}}, nil
	}
	if text := nonEmptyString(root.Get("thinking")); text != "" {
		return []StreamEvent{ThinkingEvent{Text: text}}, nil
	}
	if calls := root.Get("tool_calls"); calls.IsArray() {
		var events []StreamEvent
		position := 0
		calls.ForEach(func(_, call gjson.Result) bool {
			events = append(events, toolCallDelta(call, position))
			position++
			return true
		})
		return events, nil
	}
	return nil, nil
}

func toolCallDelta(call gjson.Result, position int) ToolCallDeltaEvent {
	delta := ToolCallDeltaEvent{Index: position}
	if idx := call.Get("index"); idx.Exists() {
		delta.Index = int(idx.Int())
	}
	delta.ID = call.Get("id").String()
	delta.NameFragment = firstString(call, "function.name", "name")
	delta.ArgumentsFragment = firstString(call, "function.arguments", "arguments")
	return delta
}

func providerErrorFrom(root, errField gjson.Result) *ProviderError {
	perr := &ProviderError{}
	if errField.IsObject() {
		perr.Message = firstString(errField, "message", "detail")
		perr.Status = int(errField.Get("status").Int())
		perr.Traceback = errField.Get("traceback").String()
		if data := errField.Get("data"); data.Exists() {
			perr.Data = json.RawMessage(data.Raw)
		}
	} else {
		perr.Message = errField.String()
	}
	if perr.Status == 0 {
		perr.Status = int(root.Get("status").Int())
	}
	if perr.Traceback == "" {
		perr.Traceback = root.Get("traceback").String()
	}
	if perr.Data == nil {
		if data := root.Get("data"); data.Exists() {
			perr.Data = json.RawMessage(data.Raw)
		}
	}
	if perr.Message == "" {
		perr.Message = "unknown error"
	}
	return perr
}

// salvageError recognizes error reports in payloads that are not valid
// JSON, such as a truncated error object or a bare traceback.
func salvageError(raw string) *ProviderError {
	trimmed := strings.TrimSpace(raw)
	switch {
	case strings.Contains(trimmed, `"error"`):
		perr := &ProviderError{Message: excerpt(trimmed)}
		if msg := gjson.Get(trimmed, "error.message"); msg.Type == gjson.String && msg.Str != "" {
			perr.Message = msg.Str
		} else if msg := gjson.Get(trimmed, "error"); msg.Type == gjson.String && msg.Str != "" {
			perr.Message = msg.Str
		}
		if tb := gjson.Get(trimmed, "traceback"); tb.Type == gjson.String {
			perr.Traceback = tb.Str
		}
		return perr
	case strings.HasPrefix(trimmed, "Traceback (most recent call last)"):
		lines := strings.Split(trimmed, "\n")
		return &ProviderError{Message: strings.TrimSpace(lines[len(lines)-1]), Traceback: trimmed}
	case strings.HasPrefix(trimmed, "Error:"), strings.HasPrefix(trimmed, "error:"):
		return &ProviderError{Message: strings.TrimSpace(trimmed[len("error:"):])}
	}
	return nil
}

func nonEmptyString(r gjson.Result) string {
	if r.Type != gjson.String {
		return ""
	}
	return r.Str
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Type == gjson.String {
			return v.Str
		}
	}
	return ""
}

func excerpt(s string) string {
	if len(s) <= maxErrorExcerpt {
		return s
	}
	return s[:maxErrorExcerpt] + "..."
}
