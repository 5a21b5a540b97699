// Package assistant is the conversation backend: it turns a turn request into user, action and
// assistant events, sourcing spoken turns from the microphone and replies from a chat model.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"magnus/internal/domain"
	"magnus/internal/ports"
)

// FallbackReply is emitted when the model fails so the conversation does not stay locked.
const FallbackReply = "Sorry, I couldn't reach the assistant just now. Please try again."

// DispatcherConfig tunes reply generation.
type DispatcherConfig struct {
	SystemPrompt  string
	MaxToolRounds int
	Timeout       time.Duration
	Permissions   Permissions
}

// Dispatcher implements ports.Backend and ports.CaptureStopper.
type Dispatcher struct {
	model    llms.Model
	tools    *Toolbox
	listener *Listener
	events   ports.EventEmitter
	cfg      DispatcherConfig
	logger   *slog.Logger
}

func NewDispatcher(
	model llms.Model,
	tools *Toolbox,
	listener *Listener,
	events ports.EventEmitter,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if tools == nil {
		tools = NewToolbox(cfg.Permissions)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		model:    model,
		tools:    tools,
		listener: listener,
		events:   events,
		cfg:      cfg,
		logger:   logger.With("component", "assistant"),
	}
}

// SubmitTurn runs one full exchange. It blocks until the reply has been emitted; callers that
// must not block run it on their own goroutine.
func (d *Dispatcher) SubmitTurn(ctx context.Context, req domain.TurnRequest) error {
	logger := d.logger.With("request_id", req.ID)

	var text string
	if req.FromMicrophone() {
		heard, err := d.listen(ctx)
		if errors.Is(err, domain.ErrCaptureCancelled) {
			logger.Info("microphone turn cancelled")
			return err
		}
		if err != nil {
			logger.Warn("microphone turn failed", "error", err)
			return err
		}
		text = heard
	} else {
		text = strings.TrimSpace(*req.Message)
		if text == "" {
			return errors.New("turn request has an empty message")
		}
	}

	d.emit(domain.EventUser, text)

	reply, err := d.reply(ctx, req.History, text)
	if err != nil {
		logger.Error("reply generation failed", "error", err)
		d.emit(domain.EventAssistant, FallbackReply)
		return fmt.Errorf("generate reply: %w", err)
	}
	d.emit(domain.EventAssistant, reply)
	logger.Debug("turn completed", "history", len(req.History), "reply_chars", len(reply))
	return nil
}

// StopCapture ends the microphone turn in progress, if any.
func (d *Dispatcher) StopCapture() error {
	if d.listener == nil {
		return ErrNoActiveCapture
	}
	return d.listener.Stop()
}

func (d *Dispatcher) listen(ctx context.Context) (string, error) {
	if d.listener == nil {
		return "", errors.New("microphone input is not configured")
	}
	if !d.cfg.Permissions.allows(PermissionMicrophone) {
		return "", errors.New(deniedMessage(PermissionMicrophone))
	}
	return d.listener.Listen(ctx)
}

func (d *Dispatcher) reply(ctx context.Context, history []domain.Turn, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	messages := d.prompt(history, text)
	defs := d.tools.Definitions()

	for round := 0; round <= d.cfg.MaxToolRounds; round++ {
		var opts []llms.CallOption
		// The last round offers no tools, forcing a plain answer.
		if len(defs) > 0 && round < d.cfg.MaxToolRounds {
			opts = append(opts, llms.WithTools(defs))
		}

		resp, err := d.model.GenerateContent(ctx, messages, opts...)
		if err != nil {
			return "", err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return "", errors.New("model returned no choices")
		}
		choice := resp.Choices[0]

		if len(choice.ToolCalls) == 0 {
			content := strings.TrimSpace(choice.Content)
			if content == "" {
				return "", errors.New("model returned an empty reply")
			}
			return content, nil
		}

		messages = append(messages, d.runTools(ctx, choice)...)
	}
	return "", fmt.Errorf("no reply after %d tool rounds", d.cfg.MaxToolRounds)
}

// runTools executes the requested calls and returns the assistant and tool messages to append.
func (d *Dispatcher) runTools(ctx context.Context, choice *llms.ContentChoice) []llms.MessageContent {
	request := llms.MessageContent{Role: llms.ChatMessageTypeAI}
	if strings.TrimSpace(choice.Content) != "" {
		request.Parts = append(request.Parts, llms.TextPart(choice.Content))
	}

	out := make([]llms.MessageContent, 0, len(choice.ToolCalls)+1)
	var responses []llms.MessageContent
	for _, call := range choice.ToolCalls {
		request.Parts = append(request.Parts, call)

		name := ""
		if call.FunctionCall != nil {
			name = call.FunctionCall.Name
		}
		result := d.tools.Call(ctx, call)
		d.logger.Debug("tool executed", "tool", name, "action", result.Action)
		if result.Action != "" {
			d.emit(domain.EventAction, result.Action)
		}

		responses = append(responses, llms.MessageContent{
			Role: llms.ChatMessageTypeTool,
			Parts: []llms.ContentPart{llms.ToolCallResponse{
				ToolCallID: call.ID,
				Name:       name,
				Content:    result.Output,
			}},
		})
	}
	out = append(out, request)
	return append(out, responses...)
}

func (d *Dispatcher) prompt(history []domain.Turn, text string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+2)
	if prompt := strings.TrimSpace(d.cfg.SystemPrompt); prompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, prompt))
	}
	for _, turn := range history {
		if turn.ExcludeFromContext {
			continue
		}
		role := llms.ChatMessageTypeHuman
		if turn.Speaker == domain.SpeakerAssistant {
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Text))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, text))
}

func (d *Dispatcher) emit(kind domain.EventKind, message string) {
	d.events.Emit(ports.BackendEventName(kind), domain.BackendEvent{Kind: kind, Message: message})
}
