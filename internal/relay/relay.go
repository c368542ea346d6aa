// Package relay turns a child process's output streams into line events.
package relay

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// Kind identifies which stream a line came from.
type Kind string

const (
	Stdout Kind = "stdout"
	Stderr Kind = "stderr"
)

// Line is one newline-terminated chunk of output, terminator removed.
type Line struct {
	PID  int    `json:"pid"`
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

// Emit receives lines as they are read. It runs on the relay goroutine, so a
// slow Emit delays further reads from that stream only.
type Emit func(Line)

// Relay reads r until EOF, calling emit once per line in stream order. A
// final line without a terminator is still emitted. Read errors other than
// EOF end the relay as if the stream had closed. Invalid UTF-8 is replaced
// with U+FFFD rather than dropped.
func Relay(pid int, r io.Reader, kind Kind, emit Emit) {
	br := bufio.NewReader(r)
	for {
		chunk, err := br.ReadBytes('\n')
		if len(chunk) > 0 {
			emit(Line{PID: pid, Kind: kind, Text: decode(trimEOL(chunk))})
		}
		if err != nil {
			return
		}
	}
}

// RelayPair relays stdout and stderr on separate goroutines so that a burst on
// one never delays the other. The returned channel closes once both streams
// have reached EOF.
func RelayPair(pid int, stdout, stderr io.Reader, emit Emit) <-chan struct{} {
	done := make(chan struct{})
	stderrDone := make(chan struct{})

	go func() {
		defer close(stderrDone)
		Relay(pid, stderr, Stderr, emit)
	}()
	go func() {
		defer close(done)
		Relay(pid, stdout, Stdout, emit)
		<-stderrDone
	}()

	return done
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte{'\n'})
	return bytes.TrimSuffix(b, []byte{'\r'})
}

func decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	// unicode.UTF8's decoder substitutes U+FFFD for each invalid byte.
	s, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), string(utf8.RuneError))
	}
	return string(s)
}
