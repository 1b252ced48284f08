package tools_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/storyloom/internal/tools"
)

func TestCountText(t *testing.T) {
	tests := []struct {
		text string
		want tools.TextStats
	}{
		{text: "", want: tools.TextStats{}},
		{text: "One line", want: tools.TextStats{Words: 2, Sentences: 1, Characters: 8, Paragraphs: 1}},
		{
			text: "It rained. Was it cold?\n\nNo... warm!",
			want: tools.TextStats{Words: 7, Sentences: 4, Characters: 36, Paragraphs: 2},
		},
		{text: "Café au lait.", want: tools.TextStats{Words: 3, Sentences: 1, Characters: 13, Paragraphs: 1}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tools.CountText(tt.text), tt.text)
	}
}

func TestWordCountThroughRegistry(t *testing.T) {
	reg := tools.NewRegistry(nil)
	tools.RegisterBuiltins(reg)
	assert.True(t, reg.IsReadOnly(tools.WordCountToolName))

	out, err := reg.Call(context.Background(), tools.Invocation{
		ToolName:  tools.WordCountToolName,
		Arguments: map[string]any{"text": "Call me Ishmael."},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"words":3,"sentences":1,"characters":16,"paragraphs":1}`, string(out))

	_, err = reg.Call(context.Background(), tools.Invocation{ToolName: tools.WordCountToolName, Arguments: map[string]any{}})
	var toolErr *tools.ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, tools.ErrInvalidParams, toolErr.Type)
}
