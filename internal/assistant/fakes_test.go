package assistant

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"

	"magnus/internal/domain"
	"magnus/internal/ports"
	"magnus/internal/weather"
)

// scriptedModel replays canned choices and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []*llms.ContentChoice
	err      error
	requests [][]llms.MessageContent
	options  []llms.CallOptions
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var opts llms.CallOptions
	for _, opt := range options {
		opt(&opts)
	}
	m.requests = append(m.requests, append([]llms.MessageContent(nil), messages...))
	m.options = append(m.options, opts)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{next}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type emitted struct {
	name  string
	event domain.BackendEvent
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recordingEmitter) Emit(name string, data ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	event, _ := data[0].(domain.BackendEvent)
	r.events = append(r.events, emitted{name: name, event: event})
}

func (r *recordingEmitter) snapshot() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

type fakeClipboard struct {
	mu   sync.Mutex
	text string
	err  error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	return f.err
}

type fakeWeather struct {
	place      weather.Place
	forecast   weather.Forecast
	err        error
	located    string
	forecastAt [2]float64
}

func (f *fakeWeather) Locate(_ context.Context, name string) (weather.Place, error) {
	f.located = name
	if f.err != nil {
		return weather.Place{}, f.err
	}
	return f.place, nil
}

func (f *fakeWeather) Forecast(_ context.Context, latitude, longitude float64) (weather.Forecast, error) {
	f.forecastAt = [2]float64{latitude, longitude}
	if f.err != nil {
		return weather.Forecast{}, f.err
	}
	return f.forecast, nil
}

type fakeGrabber struct {
	path  string
	err   error
	calls int
}

func (f *fakeGrabber) Capture(context.Context) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

// fakeAudioCapture hands out queued sessions first, then session.
type fakeAudioCapture struct {
	mu       sync.Mutex
	sessions []ports.AudioSession
	session  ports.AudioSession
	err      error
}

func (f *fakeAudioCapture) Start(context.Context, ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) > 0 {
		next := f.sessions[0]
		f.sessions = f.sessions[1:]
		return next, nil
	}
	return f.session, nil
}

// fakeAudioSession yields its chunks, then blocks like a live microphone until stopped.
type fakeAudioSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	stopped chan struct{}
	once    sync.Once
	stops   int
}

func newFakeAudioSession(chunks ...[]byte) *fakeAudioSession {
	return &fakeAudioSession{chunks: chunks, stopped: make(chan struct{})}
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	if len(f.chunks) > 0 {
		chunk := f.chunks[0]
		f.chunks = f.chunks[1:]
		f.mu.Unlock()
		return copy(p, chunk), nil
	}
	f.mu.Unlock()

	<-f.stopped
	return 0, io.EOF
}

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
	f.once.Do(func() { close(f.stopped) })
	return nil
}

func (f *fakeAudioSession) Close() error { return f.Stop() }

func (f *fakeAudioSession) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

// fakeProvider hands out queued sessions first, then session. A non-nil gate holds every dial
// until it is closed, like a slow websocket handshake.
type fakeProvider struct {
	mu       sync.Mutex
	sessions []ports.StreamingSession
	session  ports.StreamingSession
	err      error
	gate     chan struct{}
}

func (f *fakeProvider) StartStreaming(ctx context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) > 0 {
		next := f.sessions[0]
		f.sessions = f.sessions[1:]
		return next, nil
	}
	return f.session, nil
}

type fakeStream struct {
	mu      sync.Mutex
	events  chan domain.TranscriptEvent
	sent    int
	closed  bool
	waitErr error
	sendErr error
}

func newFakeStream(events ...domain.TranscriptEvent) *fakeStream {
	s := &fakeStream{events: make(chan domain.TranscriptEvent, 16)}
	for _, e := range events {
		s.events <- e
	}
	return s
}

func (f *fakeStream) SendAudio([]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return f.sendErr
}

func (f *fakeStream) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent
}

func (f *fakeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeStream) Events() <-chan domain.TranscriptEvent { return f.events }

func (f *fakeStream) Wait() error {
	time.Sleep(5 * time.Millisecond)
	return f.waitErr
}

func (f *fakeStream) Close() error { return f.CloseSend() }

type fakeRules struct {
	replace map[string]string
	err     error
}

func (f fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if out, ok := f.replace[text]; ok {
		return out, nil
	}
	return text, nil
}
