// Package speech speaks assistant replies through a local text-to-speech command.
package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

var ErrNoCommand = errors.New("no text-to-speech command configured")

// CommandSpeaker runs `command [-v voice] text` once per reply. Replies are spoken one at a
// time; a new reply waits for the previous one.
type CommandSpeaker struct {
	command string
	voice   string
	logger  *slog.Logger

	mu sync.Mutex
}

func NewCommandSpeaker(command, voice string, logger *slog.Logger) *CommandSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandSpeaker{
		command: strings.TrimSpace(command),
		voice:   strings.TrimSpace(voice),
		logger:  logger.With("component", "speech"),
	}
}

func (s *CommandSpeaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if s.command == "" {
		return ErrNoCommand
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cmd := exec.CommandContext(ctx, s.command, s.args(text)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	s.logger.Debug("speaking reply", "command", s.command, "chars", len(text))
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return fmt.Errorf("%s: %w: %s", s.command, err, detail)
		}
		return fmt.Errorf("%s: %w", s.command, err)
	}
	return nil
}

func (s *CommandSpeaker) args(text string) []string {
	if s.voice == "" {
		return []string{text}
	}
	return []string{"-v", s.voice, text}
}
