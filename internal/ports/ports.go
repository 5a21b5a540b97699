package ports

import (
	"context"
	"io"

	"magnus/internal/domain"
)

// Event names shared by the backend, the core and the view layer.
const (
	EventUser      = "magnus:user"
	EventAssistant = "magnus:assistant"
	EventAction    = "magnus:action"

	EventTranscript = "magnus:transcript"
	EventFlags      = "magnus:flags"
	EventError      = "magnus:error"
)

// BackendEventName maps an event kind to its bus name.
func BackendEventName(kind domain.EventKind) string {
	switch kind {
	case domain.EventUser:
		return EventUser
	case domain.EventAssistant:
		return EventAssistant
	case domain.EventAction:
		return EventAction
	default:
		return ""
	}
}

// Backend dispatches conversation turns. Replies arrive later as events, never as return values.
type Backend interface {
	SubmitTurn(ctx context.Context, req domain.TurnRequest) error
}

// CaptureStopper is implemented by backends that can end a live microphone capture early.
type CaptureStopper interface {
	StopCapture() error
}

// EventSource delivers named events. The returned func removes the handler.
type EventSource interface {
	On(name string, handler func(data ...any)) func()
}

// EventEmitter publishes named events.
type EventEmitter interface {
	Emit(name string, data ...any)
}

// EventBus is both ends of the command/event channel.
type EventBus interface {
	EventSource
	EventEmitter
}

// ViewSink receives view-facing outputs from the conversation core.
type ViewSink interface {
	TranscriptChanged(state domain.ViewState)
	FlagsChanged(state domain.ViewState)
	SessionError(code domain.ErrorCode, detail string)
}

// Speaker plays assistant replies aloud.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
	EndpointingMs  int
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.TranscriptEvent
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// RulesEngine corrects transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}
