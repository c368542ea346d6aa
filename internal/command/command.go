// Package command turns a shell-style command line into an executable and
// its argument vector.
//
// Splitting follows POSIX shell-word rules (single and double quotes,
// backslash escapes, runs of whitespace collapsed). The resulting words are
// handed to the OS verbatim: nothing is globbed, expanded or re-quoted.
package command

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ParseError reports a command line that cannot be split into words.
type ParseError struct {
	Command string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("parsing command %q: empty command", e.Command)
	}
	return fmt.Sprintf("parsing command %q: %v", e.Command, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Resolve splits command into the executable (first word) and its arguments.
// An empty command or one with unterminated quoting yields a *ParseError.
func Resolve(command string) (string, []string, error) {
	if strings.TrimSpace(command) == "" {
		return "", nil, &ParseError{Command: command}
	}

	words, err := shlex.Split(command)
	if err != nil {
		return "", nil, &ParseError{Command: command, Err: err}
	}
	// A line holding only a comment splits to nothing.
	if len(words) == 0 || words[0] == "" {
		return "", nil, &ParseError{Command: command}
	}

	return words[0], words[1:], nil
}

// Quote renders path as a single shell word, suitable for building command
// lines that Resolve will split back into the original path.
func Quote(path string) string {
	if path == "" {
		return `""`
	}
	if !strings.ContainsAny(path, " \t\n\"'\\$`#") {
		return path
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`")
	return `"` + r.Replace(path) + `"`
}
