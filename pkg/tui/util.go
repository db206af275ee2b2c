package tui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	if max <= 3 {
		return runewidth.Truncate(s, max, "")
	}
	return runewidth.Truncate(s, max, "...")
}

// padRight pads to a display width, ignoring ANSI color codes so styled
// cells line up with plain ones.
func padRight(s string, width int) string {
	visible := runewidth.StringWidth(stripAnsi(s))
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func stripAnsi(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\033' {
			inEscape = true
			continue
		}
		if inEscape {
			if r == 'm' {
				inEscape = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
