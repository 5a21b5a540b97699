// Package tui is the terminal front end. It renders the conversation core's view state with
// bubbletea and drives the core through the same operations the desktop bindings use.
package tui

import (
	"log/slog"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"

	"magnus/internal/domain"
)

// Controller is the part of the conversation session the view drives.
type Controller interface {
	SubmitText(text string) error
	ToggleMic() error
	ToggleSpeech() (bool, error)
	UpdateDraft(text string) error
	State() (domain.ViewState, error)
}

// Options tunes the terminal view.
type Options struct {
	// Markdown renders assistant replies with glamour.
	Markdown bool
}

// Model is the bubbletea model for one conversation.
type Model struct {
	ctrl   Controller
	keys   KeyMap
	theme  Theme
	logger *slog.Logger

	input    textarea.Model
	viewport viewport.Model
	spinner  spinner.Model
	help     help.Model
	markdown *glamour.TermRenderer

	state  domain.ViewState
	status string
	width  int
	height int
}

func New(ctrl Controller, opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "Ask Magnus..."
	ta.ShowLineNumbers = false
	ta.CharLimit = 4096
	ta.SetHeight(3)
	ta.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot

	var renderer *glamour.TermRenderer
	if opts.Markdown {
		var err error
		renderer, err = glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		)
		if err != nil {
			slog.Debug("markdown renderer unavailable", "error", err)
			renderer = nil
		}
	}

	return Model{
		ctrl:     ctrl,
		keys:     DefaultKeyMap(),
		theme:    DefaultTheme(),
		logger:   slog.Default().With("component", "tui"),
		input:    ta,
		viewport: viewport.New(80, 20),
		spinner:  sp,
		help:     help.New(),
		markdown: renderer,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.spinner.Tick, m.refresh())
}

// State returns the snapshot the model last rendered.
func (m Model) State() domain.ViewState {
	return m.state
}
