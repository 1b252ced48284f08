package ui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdown renders assistant replies, one glamour renderer per wrap width.
var markdown = struct {
	sync.Mutex
	byWidth map[int]*glamour.TermRenderer
}{byWidth: make(map[int]*glamour.TermRenderer)}

// RenderMarkdown renders content wrapped to width. Content that cannot be
// rendered is returned as is.
func RenderMarkdown(content string, width int) string {
	if content == "" {
		return ""
	}

	markdown.Lock()
	defer markdown.Unlock()
	r, ok := markdown.byWidth[width]
	if !ok {
		var err error
		r, err = glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(width))
		if err != nil {
			return content
		}
		markdown.byWidth[width] = r
	}

	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return strings.Trim(out, "\n")
}
