package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/fx"

	"magnus/internal/bootstrap"
	"magnus/internal/config"
	"magnus/internal/conversation"
	"magnus/internal/domain"
	"magnus/internal/ports"
)

// App is the Wails application root. Its exported methods are bound to the frontend.
type App struct {
	ctx    context.Context
	cfg    config.Config
	logger *slog.Logger

	services *bootstrap.Services
	session  *conversation.Session
	bootErr  error
}

func NewApp(cfg config.Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.boot(ctx)
}

func (a *App) boot(ctx context.Context, extra ...fx.Option) {
	services, err := bootstrap.Build(a.cfg, a.logger, a, &wailsClipboard{app: a}, extra...)
	if err == nil {
		err = services.Start(ctx)
	}
	if err != nil {
		a.logger.Error("startup failed", "error", err)
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.session = services.Session
	a.logger.Info("application ready", "config", a.cfg.Path)
}

func (a *App) shutdown(ctx context.Context) {
	if a.services == nil {
		return
	}
	if err := a.services.Stop(ctx); err != nil {
		a.logger.Warn("shutdown failed", "error", err)
	}
}

// SubmitText sends a typed turn. Blank text is ignored.
func (a *App) SubmitText(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.report(a.session.SubmitText(text))
}

// ToggleMic arms or disarms live capture.
func (a *App) ToggleMic() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.report(a.session.ToggleMic())
}

// ToggleSpeech flips spoken replies and returns the new setting.
func (a *App) ToggleSpeech() (bool, error) {
	if err := a.requireReady(); err != nil {
		return false, err
	}
	return a.session.ToggleSpeech()
}

// UpdateDraft mirrors the text box so the draft survives a reload.
func (a *App) UpdateDraft(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.session.UpdateDraft(text)
}

// GetState returns everything the view renders.
func (a *App) GetState() (domain.ViewState, error) {
	if err := a.requireReady(); err != nil {
		return domain.ViewState{}, err
	}
	return a.session.State()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"llmProvider":        a.cfg.LLM.Provider,
		"llmModel":           a.cfg.LLM.Model,
		"transcriptionModel": a.cfg.Deepgram.Model,
		"language":           a.cfg.Deepgram.Language,
		"rulesFile":          a.cfg.Rules.Path,
		"audioInput":         a.cfg.Audio.InputDevice,
		"audioInputFormat":   a.cfg.Audio.InputFormat,
		"configFile":         a.cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.session == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

// report surfaces unexpected session failures. A refused submit while a reply is pending is
// expected and left to the caller.
func (a *App) report(err error) error {
	if err != nil && !errors.Is(err, conversation.ErrAwaitingReply) {
		a.SessionError(domain.ErrorCodeDispatch, err.Error())
	}
	return err
}

// TranscriptChanged emits the full view state after a turn is appended.
func (a *App) TranscriptChanged(state domain.ViewState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, ports.EventTranscript, state)
}

// FlagsChanged emits the view state after a flag flips.
func (a *App) FlagsChanged(state domain.ViewState) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, ports.EventFlags, state)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, ports.EventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeDispatch:
		return "Could not reach the assistant"
	case domain.ErrorCodeAudioStream:
		return "Audio streaming issue"
	case domain.ErrorCodeTranscription:
		return "Transcription error"
	case domain.ErrorCodeRules:
		return "Rules processing failed"
	case domain.ErrorCodeSpeech:
		return "Could not speak the reply"
	case domain.ErrorCodeMalformedEvent:
		return "Ignored a malformed event"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

// wailsClipboard writes through the Wails runtime, which needs the application context rather
// than the caller's.
type wailsClipboard struct {
	app *App
}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.app.ctx == nil {
		return errors.New("clipboard is not available before startup")
	}
	return runtime.ClipboardSetText(c.app.ctx, text)
}
