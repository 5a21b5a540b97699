// Package config loads magnus settings from defaults, a TOML file and MAGNUS_* variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	koanftoml "github.com/knadh/koanf/parsers/toml/v2"
	koanfenv "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	gokeyring "github.com/zalando/go-keyring"

	"magnus/internal/screenshot"
	"magnus/internal/weather"
)

const (
	envPrefix = "MAGNUS_"

	// KeyringService is the OS keyring service API keys are read from.
	KeyringService = "magnus"
)

// Config stores runtime configuration.
type Config struct {
	Session     SessionConfig     `koanf:"session"`
	LLM         LLMConfig         `koanf:"llm"`
	Deepgram    DeepgramConfig    `koanf:"deepgram"`
	Audio       AudioConfig       `koanf:"audio"`
	Rules       RulesConfig       `koanf:"rules"`
	Speech      SpeechConfig      `koanf:"speech"`
	Permissions PermissionsConfig `koanf:"permissions"`
	Location    LocationConfig    `koanf:"location"`
	Weather     WeatherConfig     `koanf:"weather"`
	Screenshot  ScreenshotConfig  `koanf:"screenshot"`
	Logging     LoggingConfig     `koanf:"logging"`

	// Path is the config file that was read, if any.
	Path string `koanf:"-"`
}

type SessionConfig struct {
	HistoryEnabled bool `koanf:"history_enabled"`
	SpeechEnabled  bool `koanf:"speech_enabled"`
}

type LLMConfig struct {
	Provider      string `koanf:"provider"`
	Model         string `koanf:"model"`
	APIKey        string `koanf:"api_key"`
	BaseURL       string `koanf:"base_url"`
	SystemPrompt  string `koanf:"system_prompt"`
	MaxToolRounds int    `koanf:"max_tool_rounds"`
	TimeoutSecs   int    `koanf:"timeout_secs"`
}

type DeepgramConfig struct {
	APIKey        string `koanf:"api_key"`
	APIBase       string `koanf:"api_base"`
	Model         string `koanf:"model"`
	Language      string `koanf:"language"`
	SmartFormat   bool   `koanf:"smart_format"`
	EndpointingMs int    `koanf:"endpointing_ms"`
}

type AudioConfig struct {
	RecorderCommand   string `koanf:"recorder_command"`
	InputFormat       string `koanf:"input_format"`
	InputDevice       string `koanf:"input_device"`
	SampleRate        int    `koanf:"sample_rate"`
	Channels          int    `koanf:"channels"`
	ChunkSize         int    `koanf:"chunk_size"`
	StreamingGraceMs  int    `koanf:"streaming_grace_ms"`
	MaxCaptureSeconds int    `koanf:"max_capture_seconds"`
}

// StreamingGrace is how long audio keeps flowing after a manual stop.
func (a AudioConfig) StreamingGrace() time.Duration {
	return time.Duration(a.StreamingGraceMs) * time.Millisecond
}

// MaxCapture bounds a single microphone turn.
func (a AudioConfig) MaxCapture() time.Duration {
	return time.Duration(a.MaxCaptureSeconds) * time.Second
}

type RulesConfig struct {
	Path           string `koanf:"path"`
	IterationLimit int    `koanf:"iteration_limit"`
}

type SpeechConfig struct {
	Command string `koanf:"command"`
	Voice   string `koanf:"voice"`
}

// PermissionsConfig gates what the assistant may do on the user's behalf.
type PermissionsConfig struct {
	Clipboard  bool `koanf:"clipboard"`
	Location   bool `koanf:"location"`
	Microphone bool `koanf:"microphone"`
	Screenshot bool `koanf:"screenshot"`
	Speech     bool `koanf:"speech"`
}

type LocationConfig struct {
	Latitude  float64 `koanf:"latitude"`
	Longitude float64 `koanf:"longitude"`
}

// WeatherConfig points the coordinates and forecast tools at Open-Meteo compatible endpoints.
type WeatherConfig struct {
	GeocodeURL  string `koanf:"geocode_url"`
	ForecastURL string `koanf:"forecast_url"`
	Units       string `koanf:"units"`
	TimeoutSecs int    `koanf:"timeout_secs"`
}

// ScreenshotConfig is the capture command line; {file} is replaced with the output path.
type ScreenshotConfig struct {
	Command string `koanf:"command"`
	Dir     string `koanf:"dir"`
}

type LoggingConfig struct {
	Level string `koanf:"level"`
	Path  string `koanf:"path"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Session: SessionConfig{HistoryEnabled: true},
		LLM: LLMConfig{
			Provider:      "openai",
			Model:         "gpt-4o-mini",
			SystemPrompt:  "You are Magnus, a concise desktop assistant. Answer in a few sentences.",
			MaxToolRounds: 4,
			TimeoutSecs:   60,
		},
		Deepgram: DeepgramConfig{
			APIBase:       "https://api.deepgram.com/v1",
			Model:         "nova-2",
			SmartFormat:   true,
			EndpointingMs: 800,
		},
		Audio: AudioConfig{
			RecorderCommand:   "ffmpeg",
			InputFormat:       "pulse",
			InputDevice:       "default",
			SampleRate:        16000,
			Channels:          1,
			ChunkSize:         4096,
			StreamingGraceMs:  500,
			MaxCaptureSeconds: 30,
		},
		Rules:       RulesConfig{IterationLimit: 30},
		Speech:      SpeechConfig{Command: "espeak"},
		Permissions: PermissionsConfig{Microphone: true, Speech: true},
		Weather: WeatherConfig{
			GeocodeURL:  weather.DefaultGeocodeURL,
			ForecastURL: weather.DefaultForecastURL,
			Units:       "fahrenheit",
			TimeoutSecs: 10,
		},
		Screenshot: ScreenshotConfig{Command: screenshot.DefaultCommand()},
		Logging:    LoggingConfig{Level: "info"},
	}
}

// Load resolves configuration. An empty path means ~/.config/magnus/magnus.toml; a missing file
// is not an error.
func Load(path string) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	if strings.TrimSpace(path) == "" {
		path = filepath.Join(home, ".config", "magnus", "magnus.toml")
	}

	k := koanf.New(".")
	loaded := ""
	if _, statErr := os.Stat(path); statErr == nil {
		if err := k.Load(file.Provider(path), koanftoml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config %q: %w", path, err)
		}
		loaded = path
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return Config{}, fmt.Errorf("stat config %q: %w", path, statErr)
	}

	// MAGNUS_LLM_API_KEY becomes llm.api_key: the first segment names the section.
	if err := k.Load(koanfenv.Provider(".", koanfenv.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			section, field, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "_")
			if !ok {
				return section, value
			}
			return section + "." + field, value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Path = loaded

	if strings.TrimSpace(cfg.Rules.Path) == "" {
		cfg.Rules.Path = filepath.Join(home, ".config", "magnus", "corrections.rules")
	}
	resolveSecrets(&cfg)
	sanitize(&cfg)
	return cfg, nil
}

// resolveSecrets fills API keys from the conventional variables, then from the OS keyring.
func resolveSecrets(cfg *Config) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		case "anthropic":
			cfg.LLM.APIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
		}
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
		cfg.LLM.APIKey = keyringSecret(cfg.LLM.Provider)
	}

	if cfg.Deepgram.APIKey == "" {
		cfg.Deepgram.APIKey = strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY"))
	}
	if cfg.Deepgram.APIKey == "" {
		cfg.Deepgram.APIKey = keyringSecret("deepgram")
	}
}

func keyringSecret(provider string) string {
	if provider == "" {
		return ""
	}
	secret, err := gokeyring.Get(KeyringService, "apikey_"+provider)
	if err != nil {
		if !errors.Is(err, gokeyring.ErrNotFound) {
			slog.Debug("keyring lookup failed", "provider", provider, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(secret)
}

// sanitize replaces out-of-range numbers with defaults.
func sanitize(cfg *Config) {
	def := Default()
	positive := func(v *int, fallback int) {
		if *v <= 0 {
			*v = fallback
		}
	}
	positive(&cfg.LLM.MaxToolRounds, def.LLM.MaxToolRounds)
	positive(&cfg.LLM.TimeoutSecs, def.LLM.TimeoutSecs)
	positive(&cfg.Audio.SampleRate, def.Audio.SampleRate)
	positive(&cfg.Audio.Channels, def.Audio.Channels)
	positive(&cfg.Audio.MaxCaptureSeconds, def.Audio.MaxCaptureSeconds)
	positive(&cfg.Rules.IterationLimit, def.Rules.IterationLimit)
	positive(&cfg.Weather.TimeoutSecs, def.Weather.TimeoutSecs)
	cfg.Weather.Units = strings.ToLower(strings.TrimSpace(cfg.Weather.Units))
	if cfg.Weather.Units != "celsius" {
		cfg.Weather.Units = def.Weather.Units
	}
	if cfg.Audio.ChunkSize < 256 {
		cfg.Audio.ChunkSize = def.Audio.ChunkSize
	}
	if cfg.Audio.StreamingGraceMs < 0 {
		cfg.Audio.StreamingGraceMs = def.Audio.StreamingGraceMs
	}
	if cfg.Deepgram.EndpointingMs < 0 {
		cfg.Deepgram.EndpointingMs = def.Deepgram.EndpointingMs
	}
}
