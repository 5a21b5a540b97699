// Package bootstrap assembles the runtime graph with fx. Front ends supply a view sink and a
// clipboard; everything else is built from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/fx"

	"magnus/internal/assistant"
	"magnus/internal/audio"
	"magnus/internal/config"
	"magnus/internal/conversation"
	"magnus/internal/eventbus"
	"magnus/internal/ports"
	"magnus/internal/providers/deepgram"
	"magnus/internal/rules"
	"magnus/internal/screenshot"
	"magnus/internal/speech"
	"magnus/internal/weather"
)

// Services is the assembled runtime graph.
type Services struct {
	Session *conversation.Session
	Config  config.Config

	app *fx.App
}

// Start runs the lifecycle hooks, which starts the conversation session.
func (s *Services) Start(ctx context.Context) error {
	return s.app.Start(ctx)
}

// Stop closes the session and releases everything Start acquired.
func (s *Services) Stop(ctx context.Context) error {
	return s.app.Stop(ctx)
}

// Build wires all backend dependencies for the current runtime. Extra options are applied last,
// so tests can fx.Replace or fx.Decorate individual pieces.
func Build(cfg config.Config, logger *slog.Logger, view ports.ViewSink, clipboard ports.Clipboard, extra ...fx.Option) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	services := &Services{Config: cfg}
	opts := []fx.Option{
		fx.NopLogger,
		fx.Supply(cfg, logger),
		fx.Provide(
			func() ports.ViewSink { return view },
			func() ports.Clipboard { return clipboard },
			ProvideEventBus,
			ProvideRules,
			ProvideListener,
			ProvideModel,
			ProvideWeather,
			ProvideScreenGrabber,
			ProvideToolbox,
			ProvideDispatcher,
			ProvideSpeaker,
			ProvideSession,
		),
	}
	opts = append(opts, extra...)
	opts = append(opts, fx.Populate(&services.Session))

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	services.app = app
	return services, nil
}

// EventBusResult exposes the in-process bus under both of its roles.
type EventBusResult struct {
	fx.Out
	Bus     *eventbus.Bus
	Source  ports.EventSource
	Emitter ports.EventEmitter
}

// ProvideEventBus creates the bus the backend publishes user, assistant and action events on.
func ProvideEventBus() EventBusResult {
	bus := eventbus.New()
	return EventBusResult{Bus: bus, Source: bus, Emitter: bus}
}

// ProvideRules loads the transcript correction rules.
func ProvideRules(cfg config.Config, logger *slog.Logger) (ports.RulesEngine, error) {
	engine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}
	logger.Info("correction rules loaded", "path", cfg.Rules.Path, "rules", engine.Len())
	return engine, nil
}

// ProvideListener builds the microphone listener over ffmpeg and Deepgram.
func ProvideListener(cfg config.Config, engine ports.RulesEngine, logger *slog.Logger) *assistant.Listener {
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBase,
		Model:       cfg.Deepgram.Model,
		Language:    cfg.Deepgram.Language,
		SmartFormat: cfg.Deepgram.SmartFormat,
	}, logger)
	if cfg.Deepgram.APIKey == "" {
		logger.Warn("no deepgram api key, microphone turns will fail")
	}

	return assistant.NewListener(
		audio.NewRecorder(cfg.Audio.RecorderCommand, logger),
		provider,
		engine,
		assistant.ListenerConfig{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Streaming: ports.StreamingConfig{
				SampleRate:     cfg.Audio.SampleRate,
				Channels:       cfg.Audio.Channels,
				Encoding:       "linear16",
				InterimResults: true,
				EndpointingMs:  cfg.Deepgram.EndpointingMs,
			},
			ChunkSize:      cfg.Audio.ChunkSize,
			StreamingGrace: cfg.Audio.StreamingGrace(),
			MaxDuration:    cfg.Audio.MaxCapture(),
		},
		logger,
	)
}

// ProvideModel connects the configured chat model.
func ProvideModel(cfg config.Config, logger *slog.Logger) (llms.Model, error) {
	logger.Info("connecting to LLM", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	model, err := assistant.NewModel(assistant.ModelConfig{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model client: %w", err)
	}
	return model, nil
}

func permissions(cfg config.Config) assistant.Permissions {
	return assistant.Permissions{
		Clipboard:  cfg.Permissions.Clipboard,
		Location:   cfg.Permissions.Location,
		Microphone: cfg.Permissions.Microphone,
		Screenshot: cfg.Permissions.Screenshot,
	}
}

// ProvideWeather creates the Open-Meteo client behind the coordinates and forecast tools.
func ProvideWeather(cfg config.Config, logger *slog.Logger) *weather.Client {
	return weather.NewClient(weather.Config{
		GeocodeURL:  cfg.Weather.GeocodeURL,
		ForecastURL: cfg.Weather.ForecastURL,
		Units:       cfg.Weather.Units,
		Timeout:     time.Duration(cfg.Weather.TimeoutSecs) * time.Second,
	}, logger)
}

// ProvideScreenGrabber returns nil when no screenshot command is configured.
func ProvideScreenGrabber(cfg config.Config, logger *slog.Logger) *screenshot.Grabber {
	if strings.TrimSpace(cfg.Screenshot.Command) == "" {
		logger.Info("no screenshot command configured, screenshots disabled")
		return nil
	}
	return screenshot.NewGrabber(cfg.Screenshot.Command, cfg.Screenshot.Dir, logger)
}

// ToolboxParams holds what the tools are built from.
type ToolboxParams struct {
	fx.In
	Config    config.Config
	Clipboard ports.Clipboard
	Weather   *weather.Client
	Grabber   *screenshot.Grabber
}

// ProvideToolbox registers the tools the model may call. Front ends without a clipboard, and
// hosts without a screenshot command, go without those tools.
func ProvideToolbox(params ToolboxParams) *assistant.Toolbox {
	cfg := params.Config
	tools := []assistant.Tool{
		assistant.TimeTool(time.Now),
		assistant.LocationTool(cfg.Location.Latitude, cfg.Location.Longitude),
		assistant.CoordinatesTool(params.Weather),
		assistant.ForecastTool(params.Weather),
	}
	if params.Clipboard != nil {
		tools = append(tools, assistant.ClipboardTool(params.Clipboard))
	}
	if params.Grabber != nil {
		tools = append(tools, assistant.ScreenshotTool(params.Grabber))
	}
	return assistant.NewToolbox(permissions(cfg), tools...)
}

// DispatcherParams holds the dispatcher's dependencies.
type DispatcherParams struct {
	fx.In
	Config   config.Config
	Model    llms.Model
	Tools    *assistant.Toolbox
	Listener *assistant.Listener
	Events   ports.EventEmitter
	Logger   *slog.Logger
}

// DispatcherResult exposes the dispatcher as the session's backend.
type DispatcherResult struct {
	fx.Out
	Dispatcher *assistant.Dispatcher
	Backend    ports.Backend
}

// ProvideDispatcher creates the conversation backend.
func ProvideDispatcher(params DispatcherParams) DispatcherResult {
	d := assistant.NewDispatcher(params.Model, params.Tools, params.Listener, params.Events, assistant.DispatcherConfig{
		SystemPrompt:  params.Config.LLM.SystemPrompt,
		MaxToolRounds: params.Config.LLM.MaxToolRounds,
		Timeout:       time.Duration(params.Config.LLM.TimeoutSecs) * time.Second,
		Permissions:   permissions(params.Config),
	}, params.Logger)
	return DispatcherResult{Dispatcher: d, Backend: d}
}

// ProvideSpeaker returns nil when replies must not be spoken.
func ProvideSpeaker(cfg config.Config, logger *slog.Logger) ports.Speaker {
	if !cfg.Permissions.Speech || strings.TrimSpace(cfg.Speech.Command) == "" {
		logger.Info("speech output disabled")
		return nil
	}
	return speech.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Voice, logger)
}

// SessionParams holds the conversation session's dependencies.
type SessionParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    config.Config
	Backend   ports.Backend
	Source    ports.EventSource
	View      ports.ViewSink
	Speaker   ports.Speaker
	Logger    *slog.Logger
}

// ProvideSession creates the conversation session and ties its loop to the app lifecycle.
func ProvideSession(params SessionParams) *conversation.Session {
	session := conversation.NewSession(params.Backend, params.Source, params.View, conversation.Options{
		HistoryEnabled: params.Config.Session.HistoryEnabled,
		SpeechEnabled:  params.Config.Session.SpeechEnabled && params.Speaker != nil,
		Speaker:        params.Speaker,
		Logger:         params.Logger,
	})

	params.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The start context only bounds startup; the loop outlives it.
			params.Logger.Info("starting conversation session")
			return session.Start(context.Background())
		},
		OnStop: func(context.Context) error {
			params.Logger.Info("closing conversation session")
			return session.Close()
		},
	})
	return session
}
