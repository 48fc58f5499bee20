package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"botserver/pkg/bus"

	tea "github.com/charmbracelet/bubbletea"
)

func TestHandleViewportMouseWheelUpDisablesFollowLog(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()
	m.followLog = true

	previousOffset := m.viewport.YOffset
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelUp})
	if !handled {
		t.Fatal("expected wheel-up mouse event to be handled")
	}
	if m.followLog {
		t.Fatal("expected followLog to be disabled after wheel-up scroll")
	}
	if m.viewport.YOffset >= previousOffset {
		t.Fatalf("expected YOffset to decrease after wheel-up scroll, got %d want < %d", m.viewport.YOffset, previousOffset)
	}
}

func TestHandleViewportMouseWheelDownAtBottomEnablesFollowLog(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.viewport.Width = 40
	m.viewport.Height = 5
	m.viewport.SetContent(strings.Repeat("line\n", 40))
	m.viewport.GotoBottom()

	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	m.viewport.SetYOffset(max(0, maxOffset-1))
	m.followLog = false

	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonWheelDown})
	if !handled {
		t.Fatal("expected wheel-down mouse event to be handled")
	}
	if !m.viewport.AtBottom() {
		t.Fatalf("expected viewport to reach bottom, got YOffset=%d", m.viewport.YOffset)
	}
	if !m.followLog {
		t.Fatal("expected followLog to re-enable when wheel-down reaches bottom")
	}
}

func TestHandleViewportMouseIgnoresNonWheelEvents(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	handled := m.handleViewportMouse(tea.MouseMsg{Action: tea.MouseActionPress, Button: tea.MouseButtonLeft})
	if handled {
		t.Fatal("expected non-wheel mouse event to be ignored")
	}
}

func TestApplyReplyRendersMessagesAndSuggestions(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{Bot: "shop"})
	m.applyReply(replyMsg{reply: bus.OutboundMessage{
		Messages:    []string{"Welcome.", "Pick a size:"},
		Suggestions: []bus.Suggestion{{Text: "Small", Value: "S"}, {Text: "Medium", Value: "M"}},
	}})

	if len(m.messages) != 3 {
		t.Fatalf("messages = %d, want 3", len(m.messages))
	}
	if m.messages[0].role != roleBot || m.messages[1].content != "Pick a size:" {
		t.Fatalf("unexpected bot messages: %+v", m.messages[:2])
	}
	if got, want := m.messages[2].content, "1. Small\n2. Medium"; got != want {
		t.Fatalf("suggestions = %q, want %q", got, want)
	}
	if m.replies != 1 {
		t.Fatalf("replies = %d, want 1", m.replies)
	}
}

func TestApplyReplyError(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.isLoading = true
	m.applyReply(replyMsg{err: errors.New("bot_not_found: bot ghost not found")})

	if m.isLoading {
		t.Fatal("expected loading to stop")
	}
	if m.lastErr == "" || m.messages[0].role != roleError {
		t.Fatalf("expected error message, got %+v", m.messages)
	}
}

func TestSuggestionShortcut(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), nil, modeInteractive, "", RuntimeInfo{})
	m.suggestions = []bus.Suggestion{{Text: "Small", Value: "S"}, {Text: "Medium", Value: "M"}}

	tests := []struct {
		key    string
		want   string
		wantOK bool
	}{
		{key: "1", want: "S", wantOK: true},
		{key: "2", want: "M", wantOK: true},
		{key: "3"},
		{key: "0"},
		{key: "a"},
	}

	for _, tt := range tests {
		got, ok := m.suggestionShortcut(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(tt.key)})
		if ok != tt.wantOK || got != tt.want {
			t.Fatalf("suggestionShortcut(%q) = %q, %v, want %q, %v", tt.key, got, ok, tt.want, tt.wantOK)
		}
	}

	m.input.SetValue("4")
	if _, ok := m.suggestionShortcut(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("1")}); ok {
		t.Fatal("expected no shortcut while typing")
	}
}

func TestSendClearsSuggestions(t *testing.T) {
	t.Parallel()

	m := newModel(context.Background(), func(context.Context, string) (bus.OutboundMessage, error) {
		return bus.OutboundMessage{Messages: []string{"ok"}}, nil
	}, modeInteractive, "", RuntimeInfo{})
	m.suggestions = []bus.Suggestion{{Text: "S", Value: "S"}}

	if cmd := m.send("S"); cmd == nil {
		t.Fatal("expected a command")
	}
	if m.suggestions != nil || !m.isLoading {
		t.Fatalf("suggestions = %v, loading = %v", m.suggestions, m.isLoading)
	}
	if conversationTurns(m.messages) != 1 {
		t.Fatalf("turns = %d, want 1", conversationTurns(m.messages))
	}
}

func TestIsExitCommand(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"exit", " /EXIT ", "quit", ":q"} {
		if !isExitCommand(input) {
			t.Fatalf("isExitCommand(%q) = false, want true", input)
		}
	}
	if isExitCommand("1") {
		t.Fatal("isExitCommand(1) = true, want false")
	}
}
