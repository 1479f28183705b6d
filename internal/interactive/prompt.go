// Package interactive prompts for confirmation before an update is installed.
package interactive

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// notesPreviewLines caps how much of the release notes the prompt shows.
const notesPreviewLines = 10

// Response represents the user's answer to a confirmation prompt.
type Response int

const (
	ResponseYes Response = iota // Install the update
	ResponseNo                  // Leave the current version in place
)

// Prompter asks for update confirmation on a terminal.
type Prompter struct {
	in      io.Reader
	out     io.Writer
	scanner *bufio.Scanner
}

// NewPrompter creates a prompter with stdin/stdout.
func NewPrompter() *Prompter {
	return NewPrompterWithIO(os.Stdin, os.Stdout)
}

// NewPrompterWithIO creates a prompter with custom input/output (for testing).
func NewPrompterWithIO(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:      in,
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// IsTerminal checks if stdin is a terminal (TTY).
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ConfirmUpdate shows the pending version change plus a release-notes
// preview and asks whether to proceed. Anything but an explicit yes answers
// no, including EOF.
func (p *Prompter) ConfirmUpdate(current, target, notes string) Response {
	_, _ = fmt.Fprintf(p.out, "Update available: %s -> %s\n", current, target)

	if preview := notesPreview(notes); preview != "" {
		_, _ = fmt.Fprintf(p.out, "\nChanges in %s:\n%s\n", target, preview)
	}

	_, _ = fmt.Fprint(p.out, "\nInstall now? [y/N] ")
	if !p.scanner.Scan() {
		return ResponseNo
	}

	switch strings.ToLower(strings.TrimSpace(p.scanner.Text())) {
	case "y", "yes":
		return ResponseYes
	default:
		return ResponseNo
	}
}

// notesPreview returns the first notesPreviewLines lines of notes, indented,
// with a marker when the notes were truncated.
func notesPreview(notes string) string {
	notes = strings.TrimSpace(notes)
	if notes == "" {
		return ""
	}

	lines := strings.Split(notes, "\n")
	truncated := false
	if len(lines) > notesPreviewLines {
		lines = lines[:notesPreviewLines]
		truncated = true
	}

	var b strings.Builder
	for _, line := range lines {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	if truncated {
		b.WriteString("  ...\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
