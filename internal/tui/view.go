package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"magnus/internal/domain"
)

const (
	markerIn  = "In Context"
	markerOut = "Out of Context"
)

// Theme holds the view's styles.
type Theme struct {
	User      lipgloss.Style
	Assistant lipgloss.Style
	Action    lipgloss.Style
	Marker    lipgloss.Style
	Status    lipgloss.Style
	Error     lipgloss.Style
	Flag      lipgloss.Style
	FlagOn    lipgloss.Style
	Prompt    lipgloss.Style
}

func DefaultTheme() Theme {
	accent := lipgloss.Color("#F4DB53")
	user := lipgloss.Color("#F952F9")
	assistant := lipgloss.Color("#01FAFA")
	muted := lipgloss.Color("#7F8690")

	return Theme{
		User:      lipgloss.NewStyle().Foreground(user).Bold(true),
		Assistant: lipgloss.NewStyle().Foreground(assistant).Bold(true),
		Action:    lipgloss.NewStyle().Foreground(muted).Italic(true),
		Marker:    lipgloss.NewStyle().Foreground(muted),
		Status:    lipgloss.NewStyle().Foreground(muted),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#F54545")),
		Flag:      lipgloss.NewStyle().Foreground(muted),
		FlagOn:    lipgloss.NewStyle().Foreground(accent).Bold(true),
		Prompt: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent),
	}
}

func (m *Model) layout() {
	width := max(m.width, 20)
	m.input.SetWidth(width - 4)

	// header, status, help and the bordered prompt.
	chrome := 3 + m.input.Height() + 2
	m.viewport.Width = width
	m.viewport.Height = max(m.height-chrome, 3)
	m.renderTranscript()
}

func (m *Model) renderTranscript() {
	m.viewport.SetContent(renderTurns(m.state, m.viewport.Width, m.theme, m.markdown))
	m.viewport.GotoBottom()
}

// renderTurns lays the transcript out top to bottom, with the context marker immediately
// before the first turn in context.
func renderTurns(state domain.ViewState, width int, theme Theme, renderer *glamour.TermRenderer) string {
	if len(state.Turns) == 0 {
		return theme.Status.Render("Type a message or press C-r to talk.")
	}

	width = max(width, 10)
	var b strings.Builder
	for i, turn := range state.Turns {
		if state.Window.Visible && i == state.Window.Boundary {
			if i > 0 {
				b.WriteString(marker(markerOut+" ↑", width, theme))
				b.WriteString("\n")
			}
			b.WriteString(marker(markerIn+" ↓", width, theme))
			b.WriteString("\n")
		}
		b.WriteString(renderTurn(turn, width, theme, renderer))
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func marker(label string, width int, theme Theme) string {
	pad := max(width-len(label)-2, 2) / 2
	rule := strings.Repeat("─", pad)
	return theme.Marker.Render(rule + " " + label + " " + rule)
}

func renderTurn(turn domain.Turn, width int, theme Theme, renderer *glamour.TermRenderer) string {
	if turn.ExcludeFromContext {
		return theme.Action.Render("• " + wordwrap.String(turn.Text, width-2))
	}
	if turn.Speaker == domain.SpeakerUser {
		return theme.User.Render("You") + "\n" + wordwrap.String(turn.Text, width)
	}

	body := wordwrap.String(turn.Text, width)
	if renderer != nil {
		if rendered, err := renderer.Render(turn.Text); err == nil {
			body = strings.TrimSpace(wordwrap.String(rendered, width))
		}
	}
	return theme.Assistant.Render("Magnus") + "\n" + body
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.theme.Prompt.Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.help.ShortHelpView(m.keys.help()))
	return b.String()
}

func (m Model) header() string {
	flags := m.state.Flags
	flag := func(label string, on bool) string {
		if on {
			return m.theme.FlagOn.Render("● " + label)
		}
		return m.theme.Flag.Render("○ " + label)
	}
	return strings.Join([]string{
		flag("history", flags.HistoryEnabled),
		flag("mic", flags.MicArmed),
		flag("voice", flags.SpeechEnabled),
	}, "  ")
}

func (m Model) statusLine() string {
	switch {
	case m.status != "":
		return m.theme.Error.Render(m.status)
	case m.state.Flags.AwaitingReply:
		return m.theme.Status.Render(m.spinner.View() + " Thinking...")
	case m.state.Flags.MicArmed:
		return m.theme.Status.Render(m.spinner.View() + " Listening... press C-r to stop")
	default:
		return ""
	}
}

func errorText(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeDispatch:
		return "Could not reach the assistant: " + detail
	case domain.ErrorCodeAudioStream:
		return "Microphone problem: " + detail
	case domain.ErrorCodeTranscription:
		return "Could not transcribe that: " + detail
	case domain.ErrorCodeRules:
		return "Transcript corrections failed: " + detail
	case domain.ErrorCodeSpeech:
		return "Could not speak the reply: " + detail
	case domain.ErrorCodeMalformedEvent:
		return "Ignored a malformed event: " + detail
	default:
		if detail == "" {
			return string(code)
		}
		return detail
	}
}
