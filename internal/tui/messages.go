package tui

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"magnus/internal/domain"
)

// StateMsg carries a fresh view snapshot from the conversation core.
type StateMsg struct {
	State domain.ViewState
}

// ErrorMsg carries an error the core surfaced to the view.
type ErrorMsg struct {
	Code   domain.ErrorCode
	Detail string
}

// resultMsg reports how a user command went.
type resultMsg struct {
	action string
	text   string
	err    error
}

// Sink forwards core notifications into a running program. Notifications that arrive before
// Attach are dropped; the model asks for a snapshot when it starts.
type Sink struct {
	mu   sync.RWMutex
	send func(tea.Msg)
}

func NewSink() *Sink {
	return &Sink{}
}

// Attach routes notifications to send, usually (*tea.Program).Send.
func (s *Sink) Attach(send func(tea.Msg)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.send = send
}

func (s *Sink) deliver(msg tea.Msg) {
	s.mu.RLock()
	send := s.send
	s.mu.RUnlock()
	if send != nil {
		send(msg)
	}
}

func (s *Sink) TranscriptChanged(state domain.ViewState) {
	s.deliver(StateMsg{State: state})
}

func (s *Sink) FlagsChanged(state domain.ViewState) {
	s.deliver(StateMsg{State: state})
}

func (s *Sink) SessionError(code domain.ErrorCode, detail string) {
	s.deliver(ErrorMsg{Code: code, Detail: detail})
}
