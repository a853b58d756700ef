package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Styles holds the styling for command output
type Styles struct {
	Header   lipgloss.Style
	Label    lipgloss.Style
	Muted    lipgloss.Style
	Prompt   lipgloss.Style
	ReplyBox lipgloss.Style
	ErrorBox lipgloss.Style
	Pass     lipgloss.Style
	Fail     lipgloss.Style
	Warn     lipgloss.Style
}

// NewStyles creates a new styles instance
func NewStyles() *Styles {
	return &Styles{
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 2).
			MarginBottom(1),

		Label: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#874BFD")),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")),

		Prompt: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#A8A8A8")),

		ReplyBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#04B575")).
			Padding(1, 2).
			MarginBottom(1),

		ErrorBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#FF5F87")).
			Foreground(lipgloss.Color("#FF5F87")).
			Padding(1, 2).
			MarginBottom(1),

		Pass: lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")),
		Fail: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")),
		Warn: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
	}
}

// CheckStatus is the outcome of one doctor check
type CheckStatus int

const (
	StatusPass CheckStatus = iota
	StatusWarn
	StatusFail
)

// Check renders a single status line such as "✓ chrome  /usr/bin/chromium"
func (s *Styles) Check(status CheckStatus, name, detail string) string {
	var mark string
	switch status {
	case StatusPass:
		mark = s.Pass.Render("✓")
	case StatusWarn:
		mark = s.Warn.Render("!")
	default:
		mark = s.Fail.Render("✗")
	}
	line := fmt.Sprintf("%s %s", mark, s.Label.Render(name))
	if detail != "" {
		line += "  " + s.Muted.Render(detail)
	}
	return line
}

// KeyValues renders aligned "key: value" lines
func (s *Styles) KeyValues(pairs [][2]string) string {
	width := 0
	for _, p := range pairs {
		width = max(width, len(p[0]))
	}
	lines := make([]string, 0, len(pairs))
	for _, p := range pairs {
		key := s.Label.Render(p[0] + ":" + strings.Repeat(" ", width-len(p[0])))
		lines = append(lines, key+" "+p[1])
	}
	return strings.Join(lines, "\n")
}
