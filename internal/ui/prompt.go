package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/samsaffron/storyloom/internal/chat"
)

// ParseDecision parses a loop-limit answer: "stop", "unlimited",
// "continue" (extendBy more rounds) or "continue:N".
func ParseDecision(s string, extendBy int) (chat.Decision, error) {
	kind, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	switch kind {
	case "stop":
		return chat.Stop(), nil
	case "unlimited":
		return chat.Unlimited(), nil
	case "continue":
		if !hasArg {
			return chat.Continue(extendBy), nil
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return chat.Decision{}, fmt.Errorf("invalid round count %q", arg)
		}
		return chat.Continue(n), nil
	}
	return chat.Decision{}, fmt.Errorf("unknown loop decision %q (want stop, continue[:N] or unlimited)", s)
}

// LoopPrompt asks on the terminal whether to keep running tool rounds.
type LoopPrompt struct {
	ExtendBy int
}

func (p *LoopPrompt) RequestLoopDecision(ctx context.Context, count int) (chat.Decision, error) {
	choice := "stop"
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("The assistant has used tools %d times in a row", count)).
				Options(
					huh.NewOption("Stop and keep what it has", "stop"),
					huh.NewOption(fmt.Sprintf("Allow %d more rounds", p.ExtendBy), "continue"),
					huh.NewOption("Let it finish", "unlimited"),
				).
				Value(&choice),
		),
	)

	// Use /dev/tty directly to bypass shell redirections
	if tty, err := getTTY(); err == nil {
		defer tty.Close()
		form = form.WithInput(tty).WithOutput(tty)
	}

	if err := form.RunWithContext(ctx); err != nil {
		return chat.Stop(), err
	}
	return ParseDecision(choice, p.ExtendBy)
}

// FixedDecider answers every loop-limit question with d.
func FixedDecider(d chat.Decision) chat.LoopDecider {
	return chat.LoopDeciderFunc(func(context.Context, int) (chat.Decision, error) {
		return d, nil
	})
}

// Confirm asks a yes/no question, defaulting to no.
func Confirm(ctx context.Context, title string) (bool, error) {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if tty, err := getTTY(); err == nil {
		defer tty.Close()
		form = form.WithInput(tty).WithOutput(tty)
	}
	if err := form.RunWithContext(ctx); err != nil {
		return false, err
	}
	return ok, nil
}
