package llm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"
)

func TestGeminiArguments(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	logger := zap.New(core)

	got := geminiArguments(&genai.FunctionCall{Name: "list_chapters", Args: map[string]any{"project": "p1"}}, logger)
	assert.JSONEq(t, `{"project":"p1"}`, got)

	assert.Equal(t, "{}", geminiArguments(&genai.FunctionCall{Name: "list_chapters"}, logger))
	assert.Equal(t, 0, logs.Len())

	got = geminiArguments(&genai.FunctionCall{Name: "set_word_goal", Args: map[string]any{"goal": math.NaN()}}, logger)
	assert.Equal(t, "{}", got)
	if assert.Equal(t, 1, logs.Len()) {
		entry := logs.All()[0]
		assert.Equal(t, "set_word_goal", entry.ContextMap()["tool"])
	}
}
