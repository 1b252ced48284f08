package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AssembledCall is a finalized tool call with its decoded arguments.
type AssembledCall struct {
	Ref  ToolCallRef
	Args map[string]any
}

// AssembleToolCalls finalizes pending slots at end of stream. Empty slots are
// dropped, order follows the slot indexes, and arguments that do not decode
// to a JSON object are replaced by an empty object.
func AssembleToolCalls(pending []PendingToolCall, logger *zap.Logger) []AssembledCall {
	if logger == nil {
		logger = zap.NewNop()
	}
	calls := make([]AssembledCall, 0, len(pending))
	seen := make(map[string]int, len(pending))
	for _, slot := range pending {
		if slot.Name == "" && slot.ArgsBuffer == "" {
			continue
		}
		args, argsJSON := decodeArguments(slot, logger)
		calls = append(calls, AssembledCall{
			Ref: ToolCallRef{
				ID:            uniqueCallID(slot.ID, seen),
				Name:          slot.Name,
				ArgumentsJSON: argsJSON,
			},
			Args: args,
		})
	}
	return calls
}

func decodeArguments(slot PendingToolCall, logger *zap.Logger) (map[string]any, string) {
	raw := strings.TrimSpace(slot.ArgsBuffer)
	if raw == "" {
		return map[string]any{}, "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		logger.Warn("discarding malformed tool arguments",
			zap.String("tool", slot.Name),
			zap.Int("index", slot.Index),
			zap.String("raw", slot.ArgsBuffer),
			zap.Error(err))
		return map[string]any{}, "{}"
	}
	return args, raw
}

// uniqueCallID fills in missing ids and disambiguates repeats so every tool
// response can name exactly one call.
func uniqueCallID(id string, seen map[string]int) string {
	if id == "" {
		id = "call_" + uuid.NewString()
	}
	n := seen[id]
	seen[id] = n + 1
	if n == 0 {
		return id
	}
	unique := fmt.Sprintf("%s_%d", id, n+1)
	seen[unique]++
	return unique
}
