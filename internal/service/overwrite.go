package service

import (
	"context"
	"fmt"
	"strings"

	"snoograb/internal/core/ports"
)

// OverwriteMode names a non-interactive or interactive overwrite policy.
type OverwriteMode string

const (
	OverwriteAsk    OverwriteMode = "ask"
	OverwriteAlways OverwriteMode = "always"
	OverwriteSkip   OverwriteMode = "skip"
)

// ParseOverwriteMode validates a mode name.
func ParseOverwriteMode(s string) (OverwriteMode, error) {
	switch mode := OverwriteMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case OverwriteAsk, OverwriteAlways, OverwriteSkip:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid overwrite mode `%s`: want ask, always or skip", s)
	}
}

// AlwaysOverwrite replaces every existing output.
func AlwaysOverwrite(context.Context, string, string) bool { return true }

// NeverOverwrite keeps every existing output and skips its item.
func NeverOverwrite(context.Context, string, string) bool { return false }

var (
	_ ports.OverwriteFunc = AlwaysOverwrite
	_ ports.OverwriteFunc = NeverOverwrite
)
