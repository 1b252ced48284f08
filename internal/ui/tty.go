package ui

import (
	"os"

	"golang.org/x/term"
)

// IsTTY reports whether f is an interactive terminal.
func IsTTY(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// Width returns the terminal width of f, or fallback when it has none.
func Width(f *os.File, fallback int) int {
	if !IsTTY(f) {
		return fallback
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

// getTTY opens /dev/tty for direct terminal access (bypasses redirections)
func getTTY() (*os.File, error) {
	return os.OpenFile("/dev/tty", os.O_RDWR, 0)
}
