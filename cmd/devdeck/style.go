package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/relay"
)

var (
	stderrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	noticeStyle = lipgloss.NewStyle().Faint(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// useColor reports whether output should be styled. NO_COLOR disables it.
func useColor() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func formatLine(l relay.Line, color bool) string {
	if l.Kind == relay.Stderr && color {
		return stderrStyle.Render(l.Text)
	}
	return l.Text
}

func formatEvent(ev events.Event, color bool) string {
	var s string
	switch ev.Kind {
	case events.ProjectOutput, events.ProjectError:
		kind := relay.Stdout
		if ev.Kind == events.ProjectError {
			kind = relay.Stderr
		}
		return fmt.Sprintf("[%d] %s", ev.PID, formatLine(relay.Line{PID: ev.PID, Kind: kind, Text: ev.Line}, color))
	case events.ProjectExit:
		s = fmt.Sprintf("[%d] exited", ev.PID)
		if ev.ExitCode != nil {
			s = fmt.Sprintf("[%d] exited with code %d", ev.PID, *ev.ExitCode)
		}
	case events.ProjectReady:
		s = fmt.Sprintf("[%d] ready on %s", ev.PID, ev.Message)
		if color {
			return okStyle.Render(s)
		}
		return s
	case events.TaskStatus:
		s = fmt.Sprintf("%s: %s", ev.Task, ev.Message)
	case events.ProjectsChanged:
		s = "projects changed in " + ev.Path
	default:
		s = string(ev.Kind)
	}
	if color {
		return noticeStyle.Render(s)
	}
	return s
}
