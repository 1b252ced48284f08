package ui

import (
	"io"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// spinnerModel is the bubbletea model for the waiting spinner
type spinnerModel struct {
	spinner spinner.Model
	label   string
	styles  *Styles
	done    bool
}

type stopSpinnerMsg struct{}

func (m spinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case stopSpinnerMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " " + m.styles.Muted.Render(m.label)
}

// Spinner is a running spinner line.
type Spinner struct {
	program *tea.Program
	exited  chan struct{}
}

// StartSpinner draws a spinner on out until Stop is called. It never reads
// input, so the terminal keeps delivering Ctrl-C as a signal.
func StartSpinner(out io.Writer, label string, styles *Styles) *Spinner {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Spinner

	p := tea.NewProgram(spinnerModel{spinner: s, label: label, styles: styles},
		tea.WithOutput(out),
		tea.WithInput(nil),
		tea.WithoutSignalHandler(),
	)
	sp := &Spinner{program: p, exited: make(chan struct{})}
	go func() {
		defer close(sp.exited)
		_, _ = p.Run()
	}()
	return sp
}

// Stop clears the spinner line and waits for it to exit.
func (s *Spinner) Stop() {
	s.program.Send(stopSpinnerMsg{})
	<-s.exited
}
