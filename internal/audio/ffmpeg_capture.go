// Package audio captures microphone PCM through an ffmpeg subprocess.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"magnus/internal/ports"
)

const (
	defaultSampleRate = 16000
	defaultChannels   = 1
	startupWindow     = 250 * time.Millisecond
	stopGrace         = 1200 * time.Millisecond
)

// Recorder starts ffmpeg capture sessions that write raw s16le PCM to stdout.
type Recorder struct {
	command string
	settle  time.Duration
	logger  *slog.Logger
}

func NewRecorder(command string, logger *slog.Logger) *Recorder {
	if strings.TrimSpace(command) == "" {
		command = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{command: command, settle: startupWindow, logger: logger.With("component", "audio")}
}

// Start launches the recorder. It fails when ffmpeg exits during the startup window, which is
// how a missing input device shows up.
func (r *Recorder) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	args := captureArgs(cfg)
	cmd := exec.CommandContext(ctx, r.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create recorder stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", r.command, err)
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
		close(exited)
	}()

	select {
	case err := <-exited:
		detail := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("recorder exited during startup: %w: %s", err, detail)
		}
		return nil, fmt.Errorf("recorder exited during startup: %s", detail)
	case <-time.After(r.settle):
	}

	r.logger.Debug("microphone capture started", "device", args[7], "format", args[5], "pid", cmd.Process.Pid)
	return &recording{
		stdout:  stdout,
		stderr:  stderr,
		process: cmd.Process,
		exited:  exited,
	}, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = defaultChannels
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type recording struct {
	stdout  io.ReadCloser
	stderr  *lockedBuffer
	process *os.Process
	exited  <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (r *recording) Read(p []byte) (int, error) {
	return r.stdout.Read(p)
}

func (r *recording) Close() error {
	return r.Stop()
}

// Stop interrupts ffmpeg so it flushes, then kills it if it lingers.
func (r *recording) Stop() error {
	r.stopOnce.Do(func() {
		if r.process != nil {
			_ = r.process.Signal(os.Interrupt)
		}

		var err error
		select {
		case err = <-r.exited:
		case <-time.After(stopGrace):
			if r.process != nil {
				_ = r.process.Kill()
			}
			err = <-r.exited
		}
		r.stopErr = ignoreExitStatus(err)

		if closeErr := r.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && r.stopErr == nil {
			r.stopErr = closeErr
		}
		if r.stopErr != nil {
			if detail := strings.TrimSpace(r.stderr.String()); detail != "" {
				r.stopErr = fmt.Errorf("%w: %s", r.stopErr, detail)
			}
		}
	})
	return r.stopErr
}

// ignoreExitStatus treats a non-zero exit as a clean stop; ffmpeg exits 255 on SIGINT.
func ignoreExitStatus(err error) error {
	var exitErr *exec.ExitError
	if err == nil || errors.As(err, &exitErr) {
		return nil
	}
	return err
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
