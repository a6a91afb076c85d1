// Package tui renders run progress and results in the terminal.
package tui

import (
	"os"

	"golang.org/x/term"
)

// OutputMode represents the output mode.
type OutputMode int

const (
	// ModeStyled uses colors and rendered markdown.
	ModeStyled OutputMode = iota

	// ModePlain uses plain text output.
	ModePlain

	// ModeJSON emits one JSON object per event.
	ModeJSON

	// ModeQuiet prints only the final output.
	ModeQuiet
)

// String returns the string representation of the output mode.
func (m OutputMode) String() string {
	switch m {
	case ModeStyled:
		return "styled"
	case ModePlain:
		return "plain"
	case ModeJSON:
		return "json"
	case ModeQuiet:
		return "quiet"
	default:
		return "unknown"
	}
}

// Detector determines the appropriate output mode.
type Detector struct {
	forceMode *OutputMode
	noColor   bool
	getenv    func(string) string
	isTTY     func() bool
}

// NewDetector creates a new output mode detector for stdout.
func NewDetector() *Detector {
	return &Detector{
		getenv: os.Getenv,
		isTTY:  func() bool { return term.IsTerminal(int(os.Stdout.Fd())) },
	}
}

// ForceMode forces a specific output mode.
func (d *Detector) ForceMode(mode OutputMode) *Detector {
	d.forceMode = &mode
	return d
}

// NoColor disables color output.
func (d *Detector) NoColor(disable bool) *Detector {
	d.noColor = disable
	return d
}

// Detect determines the appropriate output mode.
func (d *Detector) Detect() OutputMode {
	if d.forceMode != nil {
		return *d.forceMode
	}

	switch d.getenv("PROMPTFLOW_OUTPUT") {
	case "json":
		return ModeJSON
	case "quiet":
		return ModeQuiet
	case "plain":
		return ModePlain
	}

	if d.getenv("CI") != "" || !d.ShouldUseColor() {
		return ModePlain
	}
	return ModeStyled
}

// ShouldUseColor determines if color should be used.
func (d *Detector) ShouldUseColor() bool {
	if d.noColor {
		return false
	}
	// NO_COLOR convention
	if d.getenv("NO_COLOR") != "" || d.getenv("TERM") == "dumb" {
		return false
	}
	return d.isTTY()
}

// TerminalWidth returns the stdout width, or 80 when unknown.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// ParseOutputMode parses an output mode from string. Unknown values
// yield ok == false.
func ParseOutputMode(s string) (OutputMode, bool) {
	switch s {
	case "styled":
		return ModeStyled, true
	case "plain":
		return ModePlain, true
	case "json":
		return ModeJSON, true
	case "quiet":
		return ModeQuiet, true
	default:
		return ModePlain, false
	}
}
