// Package printer writes the gateway CLI's human-facing output.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Out and Err receive normal and error output. Tests may replace them.
var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

func init() {
	// Users can disable colours with NO_COLOR
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Success prints a green line prefixed with a checkmark.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(Out, msg)
}

// Info prints an uncoloured message.
func Info(format string, a ...any) {
	fmt.Fprintf(Out, format, a...)
}

// Warning prints a yellow message.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(Err, msg)
}

// Step prints a progress line for multi-step commands.
func Step(format string, a ...any) {
	cyan.Fprintf(Out, "→ %s", fmt.Sprintf(format, a...))
}

// Field is one labelled value in a Fields block.
type Field struct {
	Label string
	Value any
}

// Fields prints a titled block of aligned label/value pairs.
func Fields(title string, fields []Field) {
	if title != "" {
		bold.Fprintf(Out, "%s\n", title)
	}
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Label))
	}
	for _, f := range fields {
		fmt.Fprintf(Out, "  %-*s  %v\n", width+1, f.Label+":", f.Value)
	}
}

// JSON pretty-prints v, for output meant to be piped.
func JSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Error prints a formatted error with explanation and suggestions to Err
// and returns an error carrying only the title, for cobra to propagate
// without printing again.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with extra key/value details.
func ErrorWithContext(title string, explanation string, details []Field, suggestions []string) error {
	red.Fprintf(Err, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Err, "%s\n", explanation)
	}

	if len(details) > 0 {
		fmt.Fprintf(Err, "\n")
		for _, d := range details {
			fmt.Fprintf(Err, "  %s: %v\n", d.Label, d.Value)
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Err, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Err, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(Err, "  %d. %s\n", i+1, s)
		}
	}

	return fmt.Errorf("%s", title)
}
