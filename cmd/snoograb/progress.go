package main

import (
	"fmt"
	"io"
	"strings"

	"snoograb/internal/core/domain"
)

const barWidth = 30

// progressLine redraws a single status line in place.
type progressLine struct {
	w       io.Writer
	lastLen int
	drawn   bool
}

func newProgressLine(w io.Writer) *progressLine {
	return &progressLine{w: w}
}

// Render replaces the current line with s.
func (p *progressLine) Render(s domain.ProgressSnapshot) {
	line := formatSnapshot(s)
	pad := ""
	if n := p.lastLen - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.lastLen = len(line)
	p.drawn = true
}

// Close ends the line so later output starts on a fresh one.
func (p *progressLine) Close() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

func formatSnapshot(s domain.ProgressSnapshot) string {
	filled := int(s.Percent / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)
	return fmt.Sprintf("[%s] %5.1f%% (%d/%d) %s", bar, s.Percent, s.ItemsDone, s.ItemsTotal, s.Message)
}
