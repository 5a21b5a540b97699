package tui

import (
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"magnus/internal/conversation"
)

// Controller calls go through commands: the session loop may be busy notifying this program,
// and Update must never wait on it.

func (m Model) refresh() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		state, err := ctrl.State()
		if err != nil {
			return resultMsg{action: "refresh", err: err}
		}
		return StateMsg{State: state}
	}
}

func (m Model) submit(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return resultMsg{action: "submit", text: text, err: ctrl.SubmitText(text)}
	}
}

func (m Model) toggleMic() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		return resultMsg{action: "mic", err: ctrl.ToggleMic()}
	}
}

func (m Model) toggleSpeech() tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		_, err := ctrl.ToggleSpeech()
		return resultMsg{action: "speech", err: err}
	}
}

func (m Model) updateDraft(text string) tea.Cmd {
	ctrl := m.ctrl
	return func() tea.Msg {
		if err := ctrl.UpdateDraft(text); err != nil {
			return resultMsg{action: "draft", err: err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StateMsg:
		m.state = msg.State
		if m.state.InputDisabled {
			m.input.Blur()
		} else {
			m.input.Focus()
		}
		m.renderTranscript()
		return m, nil

	case ErrorMsg:
		m.status = errorText(msg.Code, msg.Detail)
		return m, nil

	case resultMsg:
		if msg.err == nil {
			if msg.action == "submit" {
				m.status = ""
			}
			return m, nil
		}
		m.logger.Debug("command failed", "action", msg.action, "error", msg.err)
		if errors.Is(msg.err, conversation.ErrAwaitingReply) {
			m.status = "Still waiting for the last reply."
		} else {
			m.status = msg.err.Error()
		}
		if msg.action == "submit" && m.input.Value() == "" {
			m.input.SetValue(msg.text)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.PageUp), key.Matches(msg, m.keys.PageDown):
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	// Everything below edits or submits, which the core refuses while a reply is pending.
	if m.state.InputDisabled {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Submit):
		text := m.input.Value()
		if strings.TrimSpace(text) == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.submit(text)

	case key.Matches(msg, m.keys.Mic):
		return m, m.toggleMic()

	case key.Matches(msg, m.keys.Speech):
		return m, m.toggleSpeech()
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if after := m.input.Value(); after != before {
		return m, tea.Batch(cmd, m.updateDraft(after))
	}
	return m, cmd
}
