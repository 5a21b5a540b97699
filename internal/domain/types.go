package domain

import (
	"errors"
	"time"
)

// Speaker identifies who a turn is attributed to.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one message in the transcript. Turns are never mutated after append.
type Turn struct {
	ID                 string    `json:"id"`
	Speaker            Speaker   `json:"speaker"`
	Text               string    `json:"text"`
	ExcludeFromContext bool      `json:"excludeFromContext"`
	At                 time.Time `json:"at"`
}

// Modality is where a submission's user turn comes from.
type Modality string

const (
	ModalityText       Modality = "text"
	ModalityMicrophone Modality = "microphone"
)

// SessionFlags are the conversation flags a presentation layer binds to.
type SessionFlags struct {
	HistoryEnabled bool `json:"historyEnabled"`
	AwaitingReply  bool `json:"awaitingReply"`
	MicArmed       bool `json:"micArmed"`
	SpeechEnabled  bool `json:"speechEnabled"`
}

// InputDisabled reports whether the text box, mic button and submit button are locked.
func (f SessionFlags) InputDisabled() bool {
	return f.AwaitingReply
}

// Window marks the first turn that is in context for the next request.
type Window struct {
	Boundary int  `json:"boundary"`
	Visible  bool `json:"visible"`
}

// TurnRequest is the outbound conversation-turn command.
// A nil Message asks the backend to source the turn from live microphone audio.
type TurnRequest struct {
	ID      string  `json:"id"`
	Message *string `json:"message"`
	History []Turn  `json:"history"`
	Speak   bool    `json:"speak"`
}

// FromMicrophone reports whether the backend should capture the user turn itself.
func (r TurnRequest) FromMicrophone() bool {
	return r.Message == nil
}

// EventKind names the asynchronous events the backend emits.
type EventKind string

const (
	EventUser      EventKind = "user"
	EventAssistant EventKind = "assistant"
	EventAction    EventKind = "action"
)

// BackendEvent is the payload of every backend-originated event.
type BackendEvent struct {
	Kind    EventKind `json:"kind"`
	Message string    `json:"message"`
}

// ViewState is the snapshot a presentation layer renders.
type ViewState struct {
	Turns         []Turn       `json:"turns"`
	Window        Window       `json:"window"`
	Flags         SessionFlags `json:"flags"`
	InputDisabled bool         `json:"inputDisabled"`
	Draft         string       `json:"draft"`
}

// ErrorCode identifies errors surfaced to the view.
type ErrorCode string

const (
	ErrorCodeStartup        ErrorCode = "startup"
	ErrorCodeDispatch       ErrorCode = "dispatch"
	ErrorCodeAudioStream    ErrorCode = "audio_stream"
	ErrorCodeTranscription  ErrorCode = "transcription"
	ErrorCodeRules          ErrorCode = "rules"
	ErrorCodeSpeech         ErrorCode = "speech"
	ErrorCodeMalformedEvent ErrorCode = "malformed_event"
)

// ErrCaptureCancelled ends a microphone turn the user disarmed, or that a newer capture replaced,
// before anything was submitted.
var ErrCaptureCancelled = errors.New("microphone capture was cancelled")

// CodedError carries the code a failure is reported under.
type CodedError struct {
	Code ErrorCode
	Err  error
}

func (e *CodedError) Error() string { return e.Err.Error() }

func (e *CodedError) Unwrap() error { return e.Err }

// WithCode tags err with code. A nil err stays nil.
func WithCode(code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Err: err}
}

// CodeOf returns the code err was tagged with, or fallback.
func CodeOf(err error, fallback ErrorCode) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return fallback
}

// TranscriptKind identifies whether a stream event is partial or final text.
type TranscriptKind string

const (
	TranscriptKindPartial TranscriptKind = "partial"
	TranscriptKindFinal   TranscriptKind = "final"
)

// TranscriptEvent represents incremental transcription output from a provider.
type TranscriptEvent struct {
	Kind          TranscriptKind `json:"kind"`
	Text          string         `json:"text"`
	IsSpeechFinal bool           `json:"isSpeechFinal"`
}
