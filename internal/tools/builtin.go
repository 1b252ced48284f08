package tools

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/samsaffron/storyloom/internal/llm"
)

// WordCountToolName is the name of the built-in text statistics tool.
const WordCountToolName = "word_count"

// WordCountTool reports word, sentence and character counts for a text.
// It runs locally and never touches the project.
type WordCountTool struct{}

// TextStats is the result of WordCountTool.
type TextStats struct {
	Words      int `json:"words"`
	Sentences  int `json:"sentences"`
	Characters int `json:"characters"`
	Paragraphs int `json:"paragraphs"`
}

func (WordCountTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        WordCountToolName,
		Description: "Count words, sentences, characters and paragraphs in a passage of text.",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "The passage to measure",
				},
			},
			"required": []string{"text"},
		},
	}
}

func (WordCountTool) ReadOnly() bool { return true }

func (WordCountTool) Execute(ctx context.Context, args map[string]any, sc SessionContext) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, NewToolErrorf(ErrInvalidParams, "text must be a string")
	}
	return CountText(text), nil
}

// CountText measures text. Sentences end at '.', '!' or '?' runs;
// paragraphs are separated by blank lines.
func CountText(text string) TextStats {
	stats := TextStats{
		Words:      len(strings.Fields(text)),
		Characters: utf8.RuneCountInString(text),
	}

	inSentence := false
	for _, r := range text {
		switch {
		case r == '.' || r == '!' || r == '?':
			if inSentence {
				stats.Sentences++
			}
			inSentence = false
		case !unicode.IsSpace(r):
			inSentence = true
		}
	}
	if inSentence {
		stats.Sentences++
	}

	for _, p := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n") {
		if strings.TrimSpace(p) != "" {
			stats.Paragraphs++
		}
	}
	return stats
}

// RegisterBuiltins adds the local tools to r.
func RegisterBuiltins(r *Registry) {
	r.Register(WordCountTool{})
}
