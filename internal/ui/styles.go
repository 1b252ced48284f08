package ui

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Theme defines the color palette for the UI
type Theme struct {
	Primary   lipgloss.Color // prompts, highlights
	Secondary lipgloss.Color // tool calls
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // thinking, metadata
	Text      lipgloss.Color
	Spinner   lipgloss.Color
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"), // gruvbox foreground
		Spinner:   lipgloss.Color("#d3869b"), // gruvbox purple
	}
}

// Status indicators
const (
	SuccessIcon = "✓"
	FailIcon    = "✗"
	ToolIcon    = "→"
)

// Styles returns styled text helpers bound to a renderer
type Styles struct {
	theme *Theme

	Title    lipgloss.Style
	Prompt   lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style
	Tool     lipgloss.Style
	Thinking lipgloss.Style
	Spinner  lipgloss.Style
}

// NewStyles creates styles for output. Colors are dropped when output is
// not a terminal.
func NewStyles(output io.Writer) *Styles {
	theme := DefaultTheme()
	r := lipgloss.NewRenderer(output)
	return &Styles{
		theme: theme,

		Title: r.NewStyle().
			Bold(true).
			Foreground(theme.Text),
		Prompt: r.NewStyle().
			Bold(true).
			Foreground(theme.Primary),
		Success:  r.NewStyle().Foreground(theme.Success),
		Error:    r.NewStyle().Foreground(theme.Error),
		Warning:  r.NewStyle().Foreground(theme.Warning),
		Muted:    r.NewStyle().Foreground(theme.Muted),
		Bold:     r.NewStyle().Bold(true),
		Tool:     r.NewStyle().Foreground(theme.Secondary),
		Thinking: r.NewStyle().Italic(true).Foreground(theme.Muted),
		Spinner:  r.NewStyle().Foreground(theme.Spinner),
	}
}

// DefaultStyles returns styles for stderr
func DefaultStyles() *Styles {
	return NewStyles(os.Stderr)
}

// Theme returns the theme used by these styles
func (s *Styles) Theme() *Theme {
	return s.theme
}

// FormatResult returns a styled success/fail result
func (s *Styles) FormatResult(success bool, msg string) string {
	if success {
		return s.Success.Render(SuccessIcon+" ") + msg
	}
	return s.Error.Render(FailIcon+" ") + msg
}

// Truncate shortens s to at most width terminal cells, ending in "..."
// when anything was cut. Newlines are folded into spaces.
func Truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}
