package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

var (
	ErrNotStarted = errors.New("conversation session is not started")
	ErrClosed     = errors.New("conversation session is closed")
)

// Options configures a Session.
type Options struct {
	HistoryEnabled bool
	SpeechEnabled  bool
	Speaker        ports.Speaker
	Logger         *slog.Logger
	InboxSize      int
}

// Session owns one conversation. All state lives on a single loop goroutine; public methods
// post work into the loop and wait for it, so handlers never run concurrently.
type Session struct {
	backend ports.Backend
	view    ports.ViewSink
	speaker ports.Speaker
	logger  *slog.Logger

	inbox   chan func()
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once

	// Loop-owned state.
	historyEnabled bool
	transcript     *Transcript
	window         domain.Window
	input          inputController
	orch           orchestrator
	corr           correlator
	draft          string
	micRequest     string
}

// NewSession assembles a session. Start must be called before use.
func NewSession(backend ports.Backend, source ports.EventSource, view ports.ViewSink, opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = 64
	}

	s := &Session{
		backend:        backend,
		view:           view,
		speaker:        opts.Speaker,
		logger:         opts.Logger.With("component", "conversation"),
		inbox:          make(chan func(), opts.InboxSize),
		done:           make(chan struct{}),
		historyEnabled: opts.HistoryEnabled,
		input:          inputController{speechEnabled: opts.SpeechEnabled},
	}
	s.transcript = NewTranscript(s.turnAppended)
	s.orch = orchestrator{dispatch: s.dispatch}
	s.corr = correlator{
		source:     source,
		post:       s.post,
		transcript: s.transcript,
		input:      &s.input,
		orch:       &s.orch,
		onReply:    s.replyArrived,
		onDropped:  s.eventDropped,
		afterEvent: s.notifyFlags,
	}
	return s
}

// Start runs the session loop and subscribes to backend events. Calling it again is a no-op.
func (s *Session) Start(ctx context.Context) error {
	first := false
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(ctx)
		s.started.Store(true)
		go s.run()
		first = true
	})
	if !first {
		return nil
	}

	if err := s.do(s.corr.subscribe); err != nil {
		return err
	}
	s.logger.Info("conversation session started", "history_enabled", s.historyEnabled)
	return nil
}

// Close removes the event subscription and stops the loop.
func (s *Session) Close() error {
	if !s.started.Load() {
		return nil
	}
	s.closeOnce.Do(func() {
		_ = s.do(s.corr.unsubscribe)
		s.cancel()
		<-s.done
		s.logger.Info("conversation session closed", "turns", s.transcript.Len())
	})
	return nil
}

// SubmitText submits a typed turn. Blank text is ignored.
func (s *Session) SubmitText(text string) error {
	var err error
	doErr := s.do(func() {
		history := ContextHistory(s.transcript.Turns(), s.window, s.historyEnabled)
		var issued bool
		issued, err = s.orch.submit(domain.ModalityText, text, history, s.input.speechEnabled)
		if issued {
			s.draft = ""
			s.notifyFlags()
		}
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// ToggleMic arms live capture, submitting a microphone turn, or disarms it.
func (s *Session) ToggleMic() error {
	var err error
	doErr := s.do(func() {
		if s.orch.awaitingReply {
			err = ErrAwaitingReply
			return
		}

		if !s.input.toggleMic() {
			s.stopCapture()
			s.notifyFlags()
			return
		}

		history := ContextHistory(s.transcript.Turns(), s.window, s.historyEnabled)
		if _, err = s.orch.submit(domain.ModalityMicrophone, "", history, s.input.speechEnabled); err != nil {
			s.input.resetMic()
			return
		}
		s.notifyFlags()
	})
	if doErr != nil {
		return doErr
	}
	return err
}

// ToggleSpeech flips spoken replies and returns the new setting.
func (s *Session) ToggleSpeech() (bool, error) {
	var enabled bool
	err := s.do(func() {
		enabled = s.input.toggleSpeech()
		s.notifyFlags()
	})
	return enabled, err
}

// UpdateDraft records the text box contents.
func (s *Session) UpdateDraft(text string) error {
	return s.do(func() {
		s.draft = text
	})
}

// Draft returns the current text box contents.
func (s *Session) Draft() (string, error) {
	var draft string
	err := s.do(func() {
		draft = s.draft
	})
	return draft, err
}

// State returns a snapshot of everything the view renders.
func (s *Session) State() (domain.ViewState, error) {
	var state domain.ViewState
	err := s.do(func() {
		state = s.snapshot()
	})
	return state, err
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case fn := <-s.inbox:
			fn()
		}
	}
}

// post queues fn on the loop without waiting. It reports false once the session is closed.
func (s *Session) post(fn func()) bool {
	select {
	case s.inbox <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Session) do(fn func()) error {
	if !s.started.Load() {
		return ErrNotStarted
	}

	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// dispatch sends req without blocking the loop. The reply arrives as an event.
func (s *Session) dispatch(req domain.TurnRequest) {
	logger := s.logger.With("request_id", req.ID, "from_microphone", req.FromMicrophone(), "history", len(req.History))
	logger.Debug("dispatching turn")
	if req.FromMicrophone() {
		s.micRequest = req.ID
	}

	ctx := s.ctx
	go func() {
		err := s.backend.SubmitTurn(ctx, req)
		if err == nil {
			return
		}
		cancelled := errors.Is(err, domain.ErrCaptureCancelled)
		if cancelled {
			logger.Debug("microphone turn cancelled")
		} else {
			logger.Warn("turn dispatch failed", "error", err)
		}
		s.post(func() {
			// A failed capture never produces the user event that would disarm the mic. A newer
			// capture owns the arm once it has been dispatched.
			if req.FromMicrophone() && req.ID == s.micRequest && s.input.resetMic() {
				s.notifyFlags()
			}
			if !cancelled {
				s.view.SessionError(domain.CodeOf(err, domain.ErrorCodeDispatch), err.Error())
			}
		})
	}()
}

func (s *Session) stopCapture() {
	stopper, ok := s.backend.(ports.CaptureStopper)
	if !ok {
		return
	}
	go func() {
		if err := stopper.StopCapture(); err != nil {
			s.logger.Debug("stop capture failed", "error", err)
		}
	}()
}

func (s *Session) turnAppended(index int) {
	s.window = ComputeWindow(s.transcript.Turns(), s.historyEnabled)
	turn := s.transcript.At(index)
	s.logger.Debug("turn appended", "index", index, "speaker", turn.Speaker, "boundary", s.window.Boundary)
	s.view.TranscriptChanged(s.snapshot())
}

func (s *Session) replyArrived(text string) {
	if !s.input.speechEnabled || s.speaker == nil {
		return
	}

	ctx := s.ctx
	go func() {
		if err := s.speaker.Speak(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("speech playback failed", "error", err)
			s.post(func() {
				s.view.SessionError(domain.ErrorCodeSpeech, err.Error())
			})
		}
	}()
}

func (s *Session) eventDropped(kind domain.EventKind, err error) {
	s.logger.Warn("dropping malformed event", "kind", kind, "error", err)
	s.view.SessionError(domain.ErrorCodeMalformedEvent, err.Error())
}

func (s *Session) notifyFlags() {
	s.view.FlagsChanged(s.snapshot())
}

func (s *Session) flags() domain.SessionFlags {
	return domain.SessionFlags{
		HistoryEnabled: s.historyEnabled,
		AwaitingReply:  s.orch.awaitingReply,
		MicArmed:       s.input.micArmed,
		SpeechEnabled:  s.input.speechEnabled,
	}
}

func (s *Session) snapshot() domain.ViewState {
	flags := s.flags()
	return domain.ViewState{
		Turns:         s.transcript.Turns(),
		Window:        s.window,
		Flags:         flags,
		InputDisabled: flags.InputDisabled(),
		Draft:         s.draft,
	}
}
