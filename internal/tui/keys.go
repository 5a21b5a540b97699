package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the terminal view's bindings.
type KeyMap struct {
	Submit   key.Binding
	Mic      key.Binding
	Speech   key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Quit     key.Binding
}

func DefaultKeyMap() KeyMap {
	return KeyMap{
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("enter", "send"),
		),
		Mic: key.NewBinding(
			key.WithKeys("ctrl+r"),
			key.WithHelp("C-r", "mic"),
		),
		Speech: key.NewBinding(
			key.WithKeys("ctrl+t"),
			key.WithHelp("C-t", "voice"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "scroll up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "scroll down"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
	}
}

func (k KeyMap) help() []key.Binding {
	return []key.Binding{k.Submit, k.Mic, k.Speech, k.Quit}
}
