package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{}, nil)
	require.Equal(t, defaultBaseURL, p.cfg.APIBaseURL)
	require.Equal(t, defaultModel, p.cfg.Model)
}

func TestStartStreamingRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{APIKey: "  "}, nil).StartStreaming(context.Background(), ports.StreamingConfig{})
	require.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestBuildListenURL(t *testing.T) {
	t.Parallel()

	raw, err := buildListenURL(Config{Model: "nova-2"}, ports.StreamingConfig{})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "wss://api.deepgram.com/v1/listen?"), raw)

	query := mustQuery(t, raw)
	require.Equal(t, "linear16", query.Get("encoding"))
	require.Equal(t, "16000", query.Get("sample_rate"))
	require.Equal(t, "1", query.Get("channels"))
	require.Empty(t, query.Get("endpointing"))
	require.Empty(t, query.Get("language"))

	raw, err = buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1/", Model: "m", Language: "en-US", SmartFormat: true},
		ports.StreamingConfig{SampleRate: 8000, Channels: 2, InterimResults: true, EndpointingMs: 300},
	)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(raw, "ws://localhost:8080/v1/listen?"), raw)

	query = mustQuery(t, raw)
	require.Equal(t, "en-US", query.Get("language"))
	require.Equal(t, "true", query.Get("smart_format"))
	require.Equal(t, "true", query.Get("interim_results"))
	require.Equal(t, "300", query.Get("endpointing"))
	require.Equal(t, "8000", query.Get("sample_rate"))

	_, err = buildListenURL(Config{APIBaseURL: ":// bad"}, ports.StreamingConfig{})
	require.Error(t, err)
}

func TestMessageTranscript(t *testing.T) {
	t.Parallel()

	var live message
	require.NoError(t, json.Unmarshal([]byte(`{"channel":{"alternatives":[{"transcript":" hello "}]}}`), &live))
	require.Equal(t, "hello", live.transcript())

	var batch message
	require.NoError(t, json.Unmarshal([]byte(`{"results":{"channels":[{"alternatives":[{"transcript":"results"}]}]}}`), &batch))
	require.Equal(t, "results", batch.transcript())

	require.Empty(t, message{}.transcript())
}

func TestStreamFailKeepsFirstRealError(t *testing.T) {
	t.Parallel()

	s := &stream{}
	s.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure})
	require.NoError(t, s.result())

	s.fail(errors.New("first"))
	s.fail(errors.New("second"))
	require.EqualError(t, s.result(), "first")
}

func TestStreamingRoundTrip(t *testing.T) {
	t.Parallel()

	received := make(chan []byte, 4)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			kind, payload, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				received <- payload
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":false,"channel":{"alternatives":[{"transcript":"turn on"}]}}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"turn on the lights"}]}}`))
				continue
			}
			if strings.Contains(string(payload), "CloseStream") {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
		}
	}))
	defer server.Close()

	provider := NewProvider(Config{APIKey: "secret", APIBaseURL: server.URL + "/v1"}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := provider.StartStreaming(ctx, ports.StreamingConfig{InterimResults: true})
	require.NoError(t, err)

	require.NoError(t, session.SendAudio([]byte{1, 2, 3, 4}))
	require.Equal(t, []byte{1, 2, 3, 4}, <-received)

	partial := <-session.Events()
	require.Equal(t, domain.TranscriptEvent{Kind: domain.TranscriptKindPartial, Text: "turn on"}, partial)
	final := <-session.Events()
	require.Equal(t, domain.TranscriptEvent{Kind: domain.TranscriptKindFinal, Text: "turn on the lights", IsSpeechFinal: true}, final)

	require.NoError(t, session.CloseSend())
	require.ErrorIs(t, session.SendAudio([]byte{5}), errSendClosed)
	require.NoError(t, session.Wait())
}

func TestStreamingSurfacesProviderError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","message":"bad audio"}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	provider := NewProvider(Config{APIKey: "k", APIBaseURL: server.URL}, nil)
	session, err := provider.StartStreaming(context.Background(), ports.StreamingConfig{})
	require.NoError(t, err)

	_ = session.CloseSend()
	require.EqualError(t, session.Close(), "bad audio")
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	return parsed.Query()
}
