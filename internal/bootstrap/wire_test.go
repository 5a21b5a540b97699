package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"go.uber.org/fx"

	"magnus/internal/config"
	"magnus/internal/domain"
	"magnus/internal/ports"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LLM.APIKey = "sk-test"
	cfg.LLM.BaseURL = "http://127.0.0.1:1/v1"
	cfg.Deepgram.APIKey = "dg-test"
	cfg.Rules.Path = filepath.Join(t.TempDir(), "missing.rules")
	return cfg
}

func TestBuildSuccess(t *testing.T) {
	t.Parallel()

	services, err := Build(testConfig(t), nil, &recordingView{}, noopClipboard{})
	require.NoError(t, err)
	require.NotNil(t, services.Session)
	require.Equal(t, "openai", services.Config.LLM.Provider)
}

func TestBuildFailsWithoutModelKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.LLM.APIKey = ""

	_, err := Build(cfg, nil, &recordingView{}, noopClipboard{})
	require.ErrorContains(t, err, "no api key")
}

func TestBuildFailsOnInvalidRules(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Rules.Path = filepath.Join(t.TempDir(), "bad.rules")
	require.NoError(t, os.WriteFile(cfg.Rules.Path, []byte("not a valid rule\n"), 0o600))

	_, err := Build(cfg, nil, &recordingView{}, noopClipboard{})
	require.Error(t, err)
}

func TestSpeakerFollowsPermission(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Permissions.Speech = false
	require.Nil(t, ProvideSpeaker(cfg, discardLogger()))

	cfg.Permissions.Speech = true
	cfg.Speech.Command = " "
	require.Nil(t, ProvideSpeaker(cfg, discardLogger()))

	cfg.Speech.Command = "espeak"
	require.NotNil(t, ProvideSpeaker(cfg, discardLogger()))
}

func toolNames(box interface{ Definitions() []llms.Tool }) []string {
	var names []string
	for _, def := range box.Definitions() {
		names = append(names, def.Function.Name)
	}
	return names
}

func TestToolboxFollowsWhatTheHostOffers(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	logger := discardLogger()
	client := ProvideWeather(cfg, logger)

	bare := ProvideToolbox(ToolboxParams{Config: cfg, Weather: client})
	require.Equal(t, []string{"get_forecast", "get_local_time", "get_location_coordinates", "get_user_location"}, toolNames(bare))

	cfg.Screenshot.Command = "grim {file}"
	full := ProvideToolbox(ToolboxParams{
		Config:    cfg,
		Clipboard: noopClipboard{},
		Weather:   client,
		Grabber:   ProvideScreenGrabber(cfg, logger),
	})
	require.Equal(t, []string{
		"copy_to_clipboard", "get_forecast", "get_local_time", "get_location_coordinates", "get_user_location", "take_screenshot",
	}, toolNames(full))

	cfg.Screenshot.Command = " "
	require.Nil(t, ProvideScreenGrabber(cfg, logger))
}

func TestLifecycleRunsTypedRoundTrip(t *testing.T) {
	t.Parallel()

	view := &recordingView{}
	services, err := Build(testConfig(t), nil, view, noopClipboard{},
		fx.Decorate(func(llms.Model) llms.Model { return fake.NewFakeLLM([]string{"Hello from the fake model."}) }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, services.Start(ctx))

	require.NoError(t, services.Session.SubmitText("hi there"))

	require.Eventually(t, func() bool {
		state, err := services.Session.State()
		return err == nil && len(state.Turns) == 2 && !state.Flags.AwaitingReply
	}, 2*time.Second, 10*time.Millisecond)

	state, err := services.Session.State()
	require.NoError(t, err)
	require.Equal(t, domain.SpeakerUser, state.Turns[0].Speaker)
	require.Equal(t, "hi there", state.Turns[0].Text)
	require.Equal(t, "Hello from the fake model.", state.Turns[1].Text)
	require.NotZero(t, view.transcripts())

	require.NoError(t, services.Stop(ctx))
}

type recordingView struct {
	mu     sync.Mutex
	events int
}

func (v *recordingView) TranscriptChanged(domain.ViewState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.events++
}

func (v *recordingView) FlagsChanged(domain.ViewState)         {}
func (v *recordingView) SessionError(domain.ErrorCode, string) {}

func (v *recordingView) transcripts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.events
}

type noopClipboard struct{}

func (noopClipboard) SetText(context.Context, string) error { return nil }

var _ ports.ViewSink = (*recordingView)(nil)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
