package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samsaffron/storyloom/internal/chat"
	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/tools"
)

const argsPreviewWidth = 60

// Printer renders turn progress to a terminal stream. It implements
// chat.Observer and is used from the turn goroutine only.
type Printer struct {
	chat.NopObserver

	out          io.Writer
	styles       *Styles
	showThinking bool
	animate      bool

	spinner  *Spinner
	text     string // assistant text of the current request
	thinking string
	midLine  bool
}

// PrinterOptions configures a Printer.
type PrinterOptions struct {
	ShowThinking bool
	// Animate shows a spinner while waiting for the model. Only set it for
	// terminals.
	Animate bool
}

func NewPrinter(out io.Writer, opts PrinterOptions) *Printer {
	return &Printer{
		out:          out,
		styles:       NewStyles(out),
		showThinking: opts.ShowThinking,
		animate:      opts.Animate,
	}
}

// Waiting shows the spinner until the next output.
func (p *Printer) Waiting() {
	if p.animate && p.spinner == nil {
		p.spinner = StartSpinner(p.out, "Thinking...", p.styles)
	}
}

func (p *Printer) settle() {
	if p.spinner != nil {
		p.spinner.Stop()
		p.spinner = nil
	}
}

func (p *Printer) write(s string) {
	if s == "" {
		return
	}
	p.settle()
	io.WriteString(p.out, s)
	p.midLine = !strings.HasSuffix(s, "\n")
}

func (p *Printer) newline() {
	if p.midLine {
		p.write("\n")
	}
}

func (p *Printer) OnText(soFar string) {
	if !strings.HasPrefix(soFar, p.text) {
		// A new request started; its text accumulates from scratch.
		p.newline()
		p.text = ""
	}
	if p.thinking != "" && p.text == "" {
		p.newline()
	}
	p.write(soFar[len(p.text):])
	p.text = soFar
}

func (p *Printer) OnThinking(soFar string) {
	if !strings.HasPrefix(soFar, p.thinking) {
		p.thinking = ""
	}
	if p.showThinking {
		p.write(p.styles.Thinking.Render(soFar[len(p.thinking):]))
	}
	p.thinking = soFar
}

func (p *Printer) OnToolStart(call llm.AssembledCall) {
	p.newline()
	p.write(p.styles.Tool.Render(fmt.Sprintf("%s %s(%s)", ToolIcon, call.Ref.Name, Truncate(call.Ref.ArgumentsJSON, argsPreviewWidth))) + "\n")
}

func (p *Printer) OnToolResult(call llm.AssembledCall, result tools.Result) {
	elapsed := p.styles.Muted.Render(result.Duration.Round(time.Millisecond).String())
	if result.Err != nil {
		p.write("  " + p.styles.FormatResult(false, call.Ref.Name+": "+Truncate(result.Err.Error(), argsPreviewWidth)) + " " + elapsed + "\n")
		return
	}
	p.write("  " + p.styles.FormatResult(true, call.Ref.Name) + " " + elapsed + "\n")
}

func (p *Printer) OnProjectChanged() {
	p.write(p.styles.Muted.Render("  project updated") + "\n")
}

func (p *Printer) OnRoundComplete(int) {
	p.text, p.thinking = "", ""
	p.Waiting()
}

func (p *Printer) OnLoopSuspended(pd *chat.PendingDecision) {
	p.settle()
	p.newline()
	p.write(p.styles.Warning.Render(fmt.Sprintf("Paused after %d tool rounds.", pd.Count())) + "\n")
}

// Finish ends the turn output, printing err when it is not nil.
func (p *Printer) Finish(res chat.TurnResult, err error) {
	p.settle()
	p.newline()
	switch {
	case res.Cancelled:
		p.write(p.styles.Muted.Render("(cancelled)") + "\n")
	case err != nil:
		p.write(p.styles.Error.Render("Error: "+err.Error()) + "\n")
	case res.Stopped:
		p.write(p.styles.Muted.Render("(stopped at the tool round limit)") + "\n")
	}
	p.text, p.thinking = "", ""
}
