// Package deepgram streams microphone audio to Deepgram's live transcription websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

const (
	defaultBaseURL = "https://api.deepgram.com/v1"
	defaultModel   = "nova-2"
)

var (
	ErrMissingAPIKey = errors.New("deepgram api key is not configured")
	errSendClosed    = errors.New("audio stream is already closed")
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
}

// Provider implements ports.TranscriptionProvider.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger
}

func NewProvider(cfg Config, logger *slog.Logger) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer, logger: logger.With("component", "deepgram")}
}

func (p *Provider) StartStreaming(ctx context.Context, cfg ports.StreamingConfig) (ports.StreamingSession, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	listenURL, err := buildListenURL(p.cfg, cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, listenURL, headers)
	if err != nil {
		return nil, fmt.Errorf("connect to deepgram: %w", err)
	}
	p.logger.Debug("transcription stream opened", "model", p.cfg.Model, "endpointing_ms", cfg.EndpointingMs)

	s := newStream(conn, p.logger)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// stream pumps audio out and transcript events in over one websocket.
type stream struct {
	conn   *websocket.Conn
	logger *slog.Logger

	events chan domain.TranscriptEvent
	audio  chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	errMu sync.Mutex
	err   error

	sendMu     sync.RWMutex
	sendClosed bool

	closeSendOnce sync.Once
	closeOnce     sync.Once
}

func newStream(conn *websocket.Conn, logger *slog.Logger) *stream {
	s := &stream{
		conn:   conn,
		logger: logger,
		events: make(chan domain.TranscriptEvent, 64),
		audio:  make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	go func() {
		s.wg.Wait()
		close(s.events)
		close(s.done)
		_ = conn.Close()
	}()
	return s
}

func (s *stream) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errSendClosed
	}

	select {
	case s.audio <- append([]byte(nil), chunk...):
		return nil
	case <-s.done:
		if err := s.result(); err != nil {
			return err
		}
		return errSendClosed
	}
}

// CloseSend asks Deepgram to flush pending results and close the stream.
func (s *stream) CloseSend() error {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
	return nil
}

func (s *stream) Events() <-chan domain.TranscriptEvent {
	return s.events
}

func (s *stream) Wait() error {
	<-s.done
	return s.result()
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseSend()
		_ = s.conn.Close()
	})
	<-s.done
	return s.result()
}

func (s *stream) result() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) fail(err error) {
	if err == nil || websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *stream) writeLoop() {
	defer s.wg.Done()

	for chunk := range s.audio {
		if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			s.fail(fmt.Errorf("send audio: %w", err))
			// Unblocks readLoop so done closes and pending senders return.
			_ = s.conn.Close()
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.fail(fmt.Errorf("close stream: %w", err))
	}
}

func (s *stream) readLoop() {
	defer s.wg.Done()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(fmt.Errorf("read transcript: %w", err))
			return
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.logger.Debug("skipping undecodable message", "error", err)
			continue
		}

		if strings.EqualFold(msg.Type, "Error") {
			detail := strings.TrimSpace(msg.Message)
			if detail == "" {
				detail = "deepgram returned an unknown error"
			}
			s.fail(errors.New(detail))
			return
		}

		text := msg.transcript()
		if text == "" {
			continue
		}

		event := domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: text, IsSpeechFinal: msg.SpeechFinal}
		if msg.IsFinal || msg.SpeechFinal {
			event.Kind = domain.TranscriptKindFinal
		}
		s.emit(event)
	}
}

func (s *stream) emit(event domain.TranscriptEvent) {
	select {
	case s.events <- event:
	default:
		s.logger.Warn("transcript event dropped, consumer is behind", "kind", event.Kind)
	}
}

type alternative struct {
	Transcript string `json:"transcript"`
}

type channel struct {
	Alternatives []alternative `json:"alternatives"`
}

type message struct {
	Type        string  `json:"type"`
	Message     string  `json:"message"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     channel `json:"channel"`
	Results     struct {
		Channels []channel `json:"channels"`
	} `json:"results"`
}

func (m message) transcript() string {
	if len(m.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(m.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(m.Results.Channels) > 0 && len(m.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(m.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(providerCfg Config, streamCfg ports.StreamingConfig) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	listenURL, err := url.Parse(strings.TrimRight(base, "/") + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid deepgram base url: %w", err)
	}

	if streamCfg.Encoding == "" {
		streamCfg.Encoding = "linear16"
	}
	if streamCfg.SampleRate <= 0 {
		streamCfg.SampleRate = 16000
	}
	if streamCfg.Channels <= 0 {
		streamCfg.Channels = 1
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("encoding", streamCfg.Encoding)
	query.Set("sample_rate", strconv.Itoa(streamCfg.SampleRate))
	query.Set("channels", strconv.Itoa(streamCfg.Channels))
	query.Set("interim_results", strconv.FormatBool(streamCfg.InterimResults))
	query.Set("smart_format", strconv.FormatBool(providerCfg.SmartFormat))
	if streamCfg.EndpointingMs > 0 {
		query.Set("endpointing", strconv.Itoa(streamCfg.EndpointingMs))
	}
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
