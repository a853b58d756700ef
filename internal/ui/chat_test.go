package ui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/chatgate/internal/automation"
)

type stubSubmitter struct {
	ready   automation.Readiness
	prompts []string
}

func (s *stubSubmitter) Submit(_ context.Context, text string, _ int) (*automation.Reply, error) {
	s.prompts = append(s.prompts, text)
	return &automation.Reply{Text: "reply to " + text, Attempts: 1}, nil
}

func (s *stubSubmitter) IsReady() automation.Readiness { return s.ready }

func enter(v *ChatView, text string) tea.Cmd {
	v.textarea.SetValue(text)
	_, cmd := v.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestChatView_SubmitAndReply(t *testing.T) {
	sub := &stubSubmitter{}
	var recorded []string
	v := NewChatView(context.Background(), sub, "https://chat.example.test/", 2, func(prompt string, reply *automation.Reply, err error) {
		require.NoError(t, err)
		recorded = append(recorded, prompt+"="+reply.Text)
	})

	cmd := enter(v, "  ping  ")
	require.NotNil(t, cmd)
	assert.True(t, v.isProcessing)
	assert.Empty(t, v.textarea.Value())

	last := v.Messages()[len(v.Messages())-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "ping", last.Content)

	// Enter is ignored while a prompt is in flight
	assert.Nil(t, enter(v, "second"))

	msg := v.submit("ping")()
	v.Update(msg)

	assert.False(t, v.isProcessing)
	last = v.Messages()[len(v.Messages())-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, "reply to ping", last.Content)
	assert.Equal(t, []string{"ping=reply to ping"}, recorded)
	assert.Equal(t, 1, v.exchanges)
	assert.Contains(t, v.View(), "1 exchange(s)")
}

func TestChatView_ErrorReply(t *testing.T) {
	v := NewChatView(context.Background(), &stubSubmitter{}, "https://chat.example.test/", 1, nil)

	v.Update(ReplyMsg{Prompt: "ping", Err: errors.New("submit failed after 1 attempt(s): boom")})

	last := v.Messages()[len(v.Messages())-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "boom")
}

func TestChatView_Commands(t *testing.T) {
	sub := &stubSubmitter{ready: automation.Readiness{Initialized: true, LoggedIn: true}}
	v := NewChatView(context.Background(), sub, "https://chat.example.test/", 1, nil)

	assert.Nil(t, enter(v, "/status"))
	last := v.Messages()[len(v.Messages())-1]
	assert.Contains(t, last.Content, "logged_in=true")
	assert.Contains(t, v.View(), "session ready")

	assert.Nil(t, enter(v, "   "), "blank input does nothing")

	cmd := enter(v, "/quit")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Error(t, v.ctx.Err(), "quitting cancels in-flight work")
	assert.Empty(t, sub.prompts)
}

func TestChatView_WindowResize(t *testing.T) {
	v := NewChatView(context.Background(), &stubSubmitter{}, "x", 1, nil)
	v.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Equal(t, 116, v.viewport.Width)
	assert.Equal(t, 30, v.viewport.Height)
}
