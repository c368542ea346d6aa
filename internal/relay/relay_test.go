package relay

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type collector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *collector) emit(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *collector) texts(kind Kind) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, l := range c.lines {
		if l.Kind == kind {
			out = append(out, l.Text)
		}
	}
	return out
}

func TestRelayFlushesPartialFinalLine(t *testing.T) {
	var c collector
	Relay(7, strings.NewReader("a\nb\nc"), Stdout, c.emit)

	got := c.texts(Stdout)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %q", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
	for _, l := range c.lines {
		if l.PID != 7 {
			t.Errorf("expected pid 7, got %d", l.PID)
		}
	}
}

func TestRelayTrailingNewlineNoExtraLine(t *testing.T) {
	var c collector
	Relay(1, strings.NewReader("one\ntwo\n"), Stdout, c.emit)

	if got := c.texts(Stdout); len(got) != 2 {
		t.Errorf("expected 2 lines, got %q", got)
	}
}

func TestRelayKeepsBlankLinesAndStripsCR(t *testing.T) {
	var c collector
	Relay(1, strings.NewReader("first\r\n\r\nthird\n"), Stderr, c.emit)

	got := c.texts(Stderr)
	want := []string{"first", "", "third"}
	if len(got) != len(want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRelayEmptyStream(t *testing.T) {
	var c collector
	Relay(1, strings.NewReader(""), Stdout, c.emit)
	if len(c.lines) != 0 {
		t.Errorf("expected no lines, got %v", c.lines)
	}
}

func TestRelayInvalidUTF8IsReplaced(t *testing.T) {
	var c collector
	Relay(1, strings.NewReader("ok \xff\xfe end\nnext\n"), Stdout, c.emit)

	got := c.texts(Stdout)
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %q", got)
	}
	line := got[0]
	if !utf8.ValidString(line) {
		t.Errorf("expected valid UTF-8, got %q", line)
	}
	if !strings.Contains(line, "�") {
		t.Errorf("expected replacement character in %q", line)
	}
	if !strings.HasPrefix(line, "ok ") || !strings.HasSuffix(line, " end") {
		t.Errorf("expected surrounding text preserved, got %q", line)
	}
	if got[1] != "next" {
		t.Errorf("expected relay to continue after bad bytes, got %q", got[1])
	}
}

func TestRelayLongLine(t *testing.T) {
	long := strings.Repeat("x", 256*1024)
	var c collector
	Relay(1, strings.NewReader(long+"\nshort\n"), Stdout, c.emit)

	got := c.texts(Stdout)
	if len(got) != 2 || got[0] != long || got[1] != "short" {
		t.Errorf("long line not relayed intact (got %d lines)", len(got))
	}
}

type failingReader struct{ data string }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.data == "" {
		return 0, io.ErrClosedPipe
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func TestRelayStopsOnReadError(t *testing.T) {
	var c collector
	Relay(1, &failingReader{data: "a\npartial"}, Stdout, c.emit)

	got := c.texts(Stdout)
	if len(got) != 2 || got[0] != "a" || got[1] != "partial" {
		t.Errorf("expected [a partial], got %q", got)
	}
}

func TestRelayPairChannelIndependence(t *testing.T) {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()

	var c collector
	got := make(chan Line, 16)
	done := RelayPair(3, stdoutR, stderrR, func(l Line) {
		c.emit(l)
		got <- l
	})

	// stdout has a half-written line; stderr must still flow.
	if _, err := stdoutW.Write([]byte("slow...")); err != nil {
		t.Fatalf("write: %v", err)
	}
	for i := 0; i < 3; i++ {
		go stderrW.Write([]byte("burst\n"))
		select {
		case l := <-got:
			if l.Kind != Stderr || l.Text != "burst" {
				t.Fatalf("expected stderr burst, got %+v", l)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("stderr line blocked behind incomplete stdout line")
		}
	}

	select {
	case <-done:
		t.Fatal("RelayPair finished while streams were open")
	default:
	}

	stdoutW.Write([]byte("done\n"))
	stdoutW.Close()
	stderrW.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RelayPair did not finish after both streams closed")
	}

	if out := c.texts(Stdout); len(out) != 1 || out[0] != "slow...done" {
		t.Errorf("expected stdout [slow...done], got %q", out)
	}
}

func TestRelayPairWaitsForBothStreams(t *testing.T) {
	stderrR, stderrW := io.Pipe()

	var c collector
	done := RelayPair(1, strings.NewReader("out\n"), stderrR, c.emit)

	select {
	case <-done:
		t.Fatal("done closed before stderr reached EOF")
	case <-time.After(50 * time.Millisecond):
	}

	stderrW.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("done not closed after stderr EOF")
	}
}
