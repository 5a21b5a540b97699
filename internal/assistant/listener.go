package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

var (
	ErrNoActiveCapture = errors.New("no active microphone capture")
	ErrNothingHeard    = errors.New("no speech was captured")
)

const streamDrainTimeout = 4 * time.Second

// ListenerConfig controls one microphone turn.
type ListenerConfig struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	ChunkSize int
	// StreamingGrace keeps audio flowing briefly after a manual stop so the tail is transcribed.
	StreamingGrace time.Duration
	// MaxDuration ends a capture nobody stopped.
	MaxDuration time.Duration
}

// Listener captures one spoken user turn: it streams the microphone to the transcription
// provider until the provider reports end of speech, Stop is called, or MaxDuration passes.
type Listener struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	rules    ports.RulesEngine
	cfg      ListenerConfig
	logger   *slog.Logger

	mu      sync.Mutex
	current *capture
}

func NewListener(
	audio ports.AudioCapture,
	provider ports.TranscriptionProvider,
	rules ports.RulesEngine,
	cfg ListenerConfig,
	logger *slog.Logger,
) *Listener {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		audio:    audio,
		provider: provider,
		rules:    rules,
		cfg:      cfg,
		logger:   logger.With("component", "listener"),
	}
}

type capture struct {
	cancel context.CancelFunc
	audio  ports.AudioSession
	stream ports.StreamingSession
	heard  *utterance

	stopped   chan struct{}
	stopOnce  sync.Once
	discarded atomic.Bool
	endOfTurn chan struct{}

	eventsDone chan struct{}
	audioDone  chan struct{}
	finished   chan struct{}
	pumpErr    error
}

func (c *capture) stop() {
	c.stopOnce.Do(func() { close(c.stopped) })
}

func (c *capture) isStopped() bool {
	select {
	case <-c.stopped:
		return true
	default:
		return false
	}
}

// discard marks the capture as replaced; its Listen returns ErrCaptureCancelled.
func (c *capture) discard() {
	c.discarded.Store(true)
	c.stop()
	c.cancel()
}

// Listen blocks until the turn is over and returns the corrected transcript. A capture that is
// still running is discarded first.
func (l *Listener) Listen(ctx context.Context) (string, error) {
	captureCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Registered before dialing so Stop reaches a capture that is still starting.
	c := &capture{
		cancel:     cancel,
		heard:      &utterance{},
		stopped:    make(chan struct{}),
		endOfTurn:  make(chan struct{}),
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
		finished:   make(chan struct{}),
	}
	defer close(c.finished)

	l.mu.Lock()
	previous := l.current
	l.current = c
	l.mu.Unlock()
	defer l.release(c)

	if previous != nil {
		l.logger.Info("discarding previous capture")
		previous.discard()
		<-previous.finished
	}

	stream, err := l.provider.StartStreaming(captureCtx, l.cfg.Streaming)
	if err != nil {
		if c.isStopped() {
			return "", domain.ErrCaptureCancelled
		}
		return "", domain.WithCode(domain.ErrorCodeTranscription, fmt.Errorf("start transcription: %w", err))
	}
	audio, err := l.audio.Start(captureCtx, l.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		if c.isStopped() {
			return "", domain.ErrCaptureCancelled
		}
		return "", domain.WithCode(domain.ErrorCodeAudioStream, fmt.Errorf("start microphone: %w", err))
	}
	if c.isStopped() {
		l.logger.Info("capture stopped while starting")
		_ = audio.Stop()
		_ = stream.Close()
		return "", domain.ErrCaptureCancelled
	}
	c.audio, c.stream = audio, stream

	go l.consume(c)
	go l.pump(c)

	timer := time.NewTimer(l.cfg.MaxDuration)
	defer timer.Stop()

	grace := time.Duration(0)
	select {
	case <-c.endOfTurn:
	case <-c.stopped:
		if c.discarded.Load() {
			l.abort(c)
			return "", domain.ErrCaptureCancelled
		}
		grace = l.cfg.StreamingGrace
	case <-timer.C:
		l.logger.Info("capture reached its time limit", "limit", l.cfg.MaxDuration)
	case <-ctx.Done():
		l.abort(c)
		return "", ctx.Err()
	}

	text, err := l.finish(ctx, c, grace)
	if c.discarded.Load() {
		return "", domain.ErrCaptureCancelled
	}
	return text, err
}

// Stop ends the running capture; Listen then returns what was heard so far, or
// ErrCaptureCancelled when the capture had not started yet.
func (l *Listener) Stop() error {
	l.mu.Lock()
	c := l.current
	l.mu.Unlock()
	if c == nil {
		return ErrNoActiveCapture
	}
	c.stop()
	return nil
}

func (l *Listener) finish(ctx context.Context, c *capture, grace time.Duration) (string, error) {
	if grace > 0 {
		timer := time.NewTimer(grace)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	if err := c.audio.Stop(); err != nil {
		l.logger.Warn("microphone did not stop cleanly", "error", err)
	}
	_ = c.stream.CloseSend()
	streamErr := waitForStream(c.stream, streamDrainTimeout)
	<-c.eventsDone
	<-c.audioDone
	c.cancel()

	raw := c.heard.text()
	if raw == "" {
		switch {
		case c.pumpErr != nil:
			return "", domain.WithCode(domain.ErrorCodeAudioStream, c.pumpErr)
		case streamErr != nil:
			return "", domain.WithCode(domain.ErrorCodeTranscription, fmt.Errorf("transcription: %w", streamErr))
		default:
			return "", domain.WithCode(domain.ErrorCodeTranscription, ErrNothingHeard)
		}
	}
	if c.pumpErr != nil {
		l.logger.Warn("audio streaming interrupted", "error", c.pumpErr)
	}

	corrected, err := l.rules.Apply(raw)
	if err != nil {
		return "", domain.WithCode(domain.ErrorCodeRules, fmt.Errorf("apply transcript corrections: %w", err))
	}
	l.logger.Debug("microphone turn captured", "raw", raw, "corrected", corrected)
	return corrected, nil
}

func (l *Listener) abort(c *capture) {
	c.stop()
	c.cancel()
	_ = c.audio.Stop()
	_ = c.stream.Close()
	<-c.eventsDone
	<-c.audioDone
}

func (l *Listener) release(c *capture) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == c {
		l.current = nil
	}
}

func (l *Listener) consume(c *capture) {
	defer close(c.eventsDone)

	ended := false
	for event := range c.stream.Events() {
		if strings.TrimSpace(event.Text) == "" {
			continue
		}
		c.heard.add(event)
		if event.IsSpeechFinal && !ended {
			ended = true
			close(c.endOfTurn)
		}
	}
}

func (l *Listener) pump(c *capture) {
	defer close(c.audioDone)

	buf := make([]byte, l.cfg.ChunkSize)
	for {
		n, err := c.audio.Read(buf)
		if n > 0 {
			if sendErr := c.stream.SendAudio(buf[:n]); sendErr != nil {
				c.pumpErr = fmt.Errorf("stream audio: %w", sendErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				c.pumpErr = fmt.Errorf("read microphone: %w", err)
			}
			return
		}
	}
}

func waitForStream(stream ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- stream.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = stream.Close()
		return <-done
	}
}

// utterance accumulates final segments, falling back to the latest partial when the provider
// never finalized.
type utterance struct {
	mu        sync.Mutex
	finals    []string
	lastHeard string
}

func (u *utterance) add(event domain.TranscriptEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()

	text := strings.TrimSpace(event.Text)
	u.lastHeard = text
	if event.Kind == domain.TranscriptKindFinal {
		u.finals = append(u.finals, text)
	}
}

func (u *utterance) text() string {
	u.mu.Lock()
	defer u.mu.Unlock()

	joined := strings.Join(u.finals, " ")
	switch {
	case joined == "":
		return u.lastHeard
	case u.lastHeard == "" || strings.HasSuffix(joined, u.lastHeard):
		return joined
	case len(u.lastHeard) > len(joined):
		return joined + " " + u.lastHeard
	default:
		return joined
	}
}
