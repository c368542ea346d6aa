package main

import (
	"testing"

	"github.com/benaskins/devdeck/internal/audit"
	"github.com/benaskins/devdeck/internal/events"
	"github.com/benaskins/devdeck/internal/relay"
)

func TestFormatLinePlain(t *testing.T) {
	l := relay.Line{PID: 1, Kind: relay.Stderr, Text: "boom"}
	if got := formatLine(l, false); got != "boom" {
		t.Errorf("formatLine = %q, want boom", got)
	}
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		ev   events.Event
		want string
	}{
		{events.Event{Kind: events.ProjectOutput, PID: 7, Line: "ready"}, "[7] ready"},
		{events.Event{Kind: events.ProjectError, PID: 7, Line: "warn"}, "[7] warn"},
		{events.Event{Kind: events.ProjectExit, PID: 7, ExitCode: audit.ExitCode(2)}, "[7] exited with code 2"},
		{events.Event{Kind: events.ProjectExit, PID: 7}, "[7] exited"},
		{events.Event{Kind: events.ProjectReady, PID: 7, Message: "http://localhost:3100"}, "[7] ready on http://localhost:3100"},
		{events.Event{Kind: events.TaskStatus, Task: "add", Message: "Installing dependency..."}, "add: Installing dependency..."},
		{events.Event{Kind: events.ProjectsChanged, Path: "/p"}, "projects changed in /p"},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.ev, false); got != tt.want {
			t.Errorf("formatEvent(%+v) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
