package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lance13c/chatgate/internal/automation"
)

// Submitter is the session the chat view talks to
type Submitter interface {
	Submit(ctx context.Context, text string, maxRetries int) (*automation.Reply, error)
	IsReady() automation.Readiness
}

// ChatMessage is one line of the transcript
type ChatMessage struct {
	Role      string // user, assistant or system
	Content   string
	Timestamp time.Time
	IsError   bool
}

// ReplyMsg carries the outcome of a submission back into the update loop
type ReplyMsg struct {
	Prompt string
	Reply  *automation.Reply
	Err    error
}

// ChatView is an interactive prompt loop over one session
type ChatView struct {
	sub        Submitter
	maxRetries int
	target     string
	onExchange func(prompt string, reply *automation.Reply, err error)

	ctx    context.Context
	cancel context.CancelFunc

	messages []ChatMessage
	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model

	width        int
	height       int
	isProcessing bool
	exchanges    int

	styles         *Styles
	userStyle      lipgloss.Style
	assistantStyle lipgloss.Style
	systemStyle    lipgloss.Style
	errorStyle     lipgloss.Style
	borderStyle    lipgloss.Style
	statusStyle    lipgloss.Style
}

// NewChatView creates the view. onExchange, when set, sees every finished
// submission and may be used to record it.
func NewChatView(ctx context.Context, sub Submitter, target string, maxRetries int, onExchange func(string, *automation.Reply, error)) *ChatView {
	ta := textarea.New()
	ta.Placeholder = "Type a prompt... (Enter to send, Esc or Ctrl+C to quit)"
	ta.CharLimit = 8000
	ta.ShowLineNumbers = false
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.Focus()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	ctx, cancel := context.WithCancel(ctx)
	v := &ChatView{
		sub:        sub,
		maxRetries: maxRetries,
		target:     target,
		onExchange: onExchange,
		ctx:        ctx,
		cancel:     cancel,
		viewport:   viewport.New(80, 20),
		textarea:   ta,
		spinner:    s,
		width:      80,
		height:     30,
		styles:     NewStyles(),

		userStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true),
		assistantStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		systemStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		errorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		borderStyle:    lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")),
		statusStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Background(lipgloss.Color("235")).Padding(0, 1),
	}
	v.addMessage("system", "Connected to "+target+". Type /status for session state, /quit to leave.")
	return v
}

// Init initializes the view
func (v *ChatView) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, v.spinner.Tick)
}

// Update handles messages
func (v *ChatView) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		v.width = msg.Width
		v.height = msg.Height
		v.viewport.Width = max(msg.Width-4, 10)
		v.viewport.Height = max(msg.Height-10, 3)
		v.textarea.SetWidth(max(msg.Width-4, 10))

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			v.cancel()
			return v, tea.Quit
		case tea.KeyEnter:
			if v.isProcessing {
				return v, nil
			}
			return v, v.handleInput()
		}

	case ReplyMsg:
		v.isProcessing = false
		v.exchanges++
		if v.onExchange != nil {
			v.onExchange(msg.Prompt, msg.Reply, msg.Err)
		}
		if msg.Err != nil {
			v.addError(msg.Err.Error())
		} else {
			v.addMessage("assistant", msg.Reply.Text)
		}
		v.textarea.Focus()
	}

	var spinnerCmd tea.Cmd
	v.spinner, spinnerCmd = v.spinner.Update(msg)
	cmds = append(cmds, spinnerCmd)

	if !v.isProcessing {
		var cmd tea.Cmd
		v.textarea, cmd = v.textarea.Update(msg)
		cmds = append(cmds, cmd)
	}

	var vpCmd tea.Cmd
	v.viewport, vpCmd = v.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return v, tea.Batch(cmds...)
}

func (v *ChatView) handleInput() tea.Cmd {
	input := strings.TrimSpace(v.textarea.Value())
	v.textarea.Reset()
	if input == "" {
		return nil
	}

	switch input {
	case "/quit", "/exit":
		v.cancel()
		return tea.Quit
	case "/status":
		r := v.sub.IsReady()
		v.addMessage("system", fmt.Sprintf("initialized=%v logged_in=%v exchanges=%d", r.Initialized, r.LoggedIn, v.exchanges))
		return nil
	}

	v.addMessage("user", input)
	v.isProcessing = true
	v.textarea.Blur()
	return tea.Batch(v.submit(input), v.spinner.Tick)
}

func (v *ChatView) submit(prompt string) tea.Cmd {
	ctx, sub, retries := v.ctx, v.sub, v.maxRetries
	return func() tea.Msg {
		reply, err := sub.Submit(ctx, prompt, retries)
		return ReplyMsg{Prompt: prompt, Reply: reply, Err: err}
	}
}

// View renders the chat interface
func (v *ChatView) View() string {
	title := v.styles.Header.Render("chatgate")

	r := v.sub.IsReady()
	state := "not ready"
	if r.Ready() {
		state = "ready"
	}
	status := v.statusStyle.Width(v.width).Render(fmt.Sprintf("%s  |  session %s  |  %d exchange(s)", v.target, state, v.exchanges))

	chatView := v.borderStyle.Width(max(v.width-2, 10)).Render(v.viewport.View())

	inputArea := v.textarea.View()
	if v.isProcessing {
		inputArea = v.systemStyle.Render(fmt.Sprintf("%s Waiting for the reply...", v.spinner.View()))
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, status, chatView, inputArea)
}

// Messages returns the transcript shown so far
func (v *ChatView) Messages() []ChatMessage {
	return v.messages
}

func (v *ChatView) addMessage(role, content string) {
	v.messages = append(v.messages, ChatMessage{Role: role, Content: content, Timestamp: time.Now()})
	v.refresh()
}

func (v *ChatView) addError(content string) {
	v.messages = append(v.messages, ChatMessage{Role: "system", Content: content, Timestamp: time.Now(), IsError: true})
	v.refresh()
}

func (v *ChatView) refresh() {
	v.viewport.SetContent(v.renderMessages())
	v.viewport.GotoBottom()
}

func (v *ChatView) renderMessages() string {
	var lines []string
	for _, msg := range v.messages {
		var style lipgloss.Style
		prefix := ""
		switch msg.Role {
		case "user":
			style = v.userStyle
			prefix = "> "
		case "assistant":
			style = v.assistantStyle
		default:
			style = v.systemStyle
		}
		if msg.IsError {
			style = v.errorStyle
		}
		lines = append(lines, style.Render(prefix+msg.Content))
	}
	return strings.Join(lines, "\n\n")
}
