package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
)

var (
	// Color scheme for command output
	headerStyle  = color.New(color.FgCyan, color.Bold)
	successStyle = color.New(color.FgGreen)
	errorStyle   = color.New(color.FgRed, color.Bold)
	warningStyle = color.New(color.FgYellow, color.Bold)
	infoStyle    = color.New(color.FgCyan)
	stepStyle    = color.New(color.FgMagenta, color.Bold)
	timeStyle    = color.New(color.FgWhite, color.Faint)
	mutedStyle   = color.New(color.FgHiBlack)
)

const (
	bullet    = "•"
	checkmark = "✓"
	xmark     = "✗"
)

// styledStatus renders an execution status with a glyph and color.
func styledStatus(status string) string {
	switch status {
	case "completed":
		return successStyle.Sprint(checkmark + " " + status)
	case "failed", "deadlocked":
		return errorStyle.Sprint(xmark + " " + status)
	case "running", "pending":
		return warningStyle.Sprint(bullet + " " + status)
	default:
		return infoStyle.Sprint(bullet + " " + status)
	}
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	if length <= 3 {
		return s[:length]
	}
	return s[:length-3] + "..."
}

// printSink writes runner progress messages to the terminal.
type printSink struct{}

func (s *printSink) Append(ctx context.Context, projectID, sessionID, message string) error {
	fmt.Println(mutedStyle.Sprint(message))
	return nil
}
