// Package setup implements the interactive wizard that writes a first
// configuration and creates the price database.
package setup

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Prompter reads answers line by line from r and writes prompts to w. Tests
// inject buffers for deterministic input.
type Prompter struct {
	scanner *bufio.Scanner
	w       io.Writer
}

// NewPrompter creates a Prompter wired to the given reader and writer.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{scanner: bufio.NewScanner(r), w: w}
}

// line prints the prompt and returns the trimmed answer. ok is false at end
// of input.
func (p *Prompter) line(format string, args ...any) (string, bool) {
	_, _ = fmt.Fprintf(p.w, format, args...)
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

// String prompts for a text value. Enter alone returns defaultVal; an empty
// defaultVal makes the value required.
func (p *Prompter) String(label, defaultVal string) string {
	for {
		var val string
		var ok bool
		if defaultVal != "" {
			val, ok = p.line("  %s [%s]: ", label, defaultVal)
		} else {
			val, ok = p.line("  %s: ", label)
		}
		if !ok {
			return defaultVal
		}
		if val != "" {
			return val
		}
		if defaultVal != "" {
			return defaultVal
		}
		_, _ = fmt.Fprintf(p.w, "  (required, please enter a value)\n")
	}
}

// Date prompts for a YYYY-MM-DD date, repeating until the answer parses.
// Enter alone or end of input returns defaultVal.
func (p *Prompter) Date(label, defaultVal string) string {
	for {
		val, ok := p.line("  %s [%s]: ", label, defaultVal)
		if !ok || val == "" {
			return defaultVal
		}
		if _, err := time.Parse(time.DateOnly, val); err == nil {
			return val
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a date as YYYY-MM-DD)\n")
	}
}

// OptionalFloat prompts for a positive number. Enter alone returns nil.
func (p *Prompter) OptionalFloat(label string) *float64 {
	for {
		val, ok := p.line("  %s (empty to skip): ", label)
		if !ok || val == "" {
			return nil
		}
		f, err := strconv.ParseFloat(val, 64)
		if err == nil && f > 0 {
			return &f
		}
		_, _ = fmt.Fprintf(p.w, "  (enter a positive number)\n")
	}
}

// Confirm asks a yes/no question. defaultYes decides the answer to a bare
// Enter.
func (p *Prompter) Confirm(label string, defaultYes bool) bool {
	hint := "[y/N]"
	if defaultYes {
		hint = "[Y/n]"
	}

	answer, ok := p.line("  %s %s: ", label, hint)
	if !ok || answer == "" {
		return defaultYes
	}
	answer = strings.ToLower(answer)
	return answer == "y" || answer == "yes"
}

// Select presents a numbered list and returns the zero-based index of the
// chosen option. Enter alone picks the first option.
func (p *Prompter) Select(label string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}

	_, _ = fmt.Fprintf(p.w, "  %s:\n", label)
	for i, opt := range options {
		_, _ = fmt.Fprintf(p.w, "    %d) %s\n", i+1, opt)
	}

	for {
		val, ok := p.line("  Choice [1-%d]: ", len(options))
		if !ok {
			return -1, fmt.Errorf("no input")
		}
		if val == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 || n > len(options) {
			_, _ = fmt.Fprintf(p.w, "  (enter a number between 1 and %d)\n", len(options))
			continue
		}
		return n - 1, nil
	}
}
