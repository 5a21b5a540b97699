// Package screenshot captures the screen through a platform screenshot command.
package screenshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// FilePlaceholder marks where the output path goes in a command line.
const FilePlaceholder = "{file}"

var ErrNoCommand = errors.New("no screenshot command configured")

// DefaultCommand returns a screenshot command line for the current platform, or "".
func DefaultCommand() string {
	switch runtime.GOOS {
	case "darwin":
		return "screencapture -x " + FilePlaceholder
	case "linux":
		return "gnome-screenshot -f " + FilePlaceholder
	default:
		return ""
	}
}

// Grabber runs a command line such as `grim {file}` and returns the PNG it wrote. When the
// command has no placeholder the path is appended as the last argument.
type Grabber struct {
	argv   []string
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewGrabber(command, dir string, logger *slog.Logger) *Grabber {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "magnus")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Grabber{
		argv:   strings.Fields(command),
		dir:    dir,
		now:    time.Now,
		logger: logger.With("component", "screenshot"),
	}
}

// Capture takes one screenshot and returns the file path.
func (g *Grabber) Capture(ctx context.Context) (string, error) {
	if len(g.argv) == 0 {
		return "", ErrNoCommand
	}
	if err := os.MkdirAll(g.dir, 0o700); err != nil {
		return "", fmt.Errorf("create screenshot directory: %w", err)
	}
	path := filepath.Join(g.dir, "screenshot-"+g.now().Format("20060102-150405.000")+".png")

	args := make([]string, 0, len(g.argv))
	placed := false
	for _, arg := range g.argv[1:] {
		if strings.Contains(arg, FilePlaceholder) {
			arg = strings.ReplaceAll(arg, FilePlaceholder, path)
			placed = true
		}
		args = append(args, arg)
	}
	if !placed {
		args = append(args, path)
	}

	cmd := exec.CommandContext(ctx, g.argv[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	g.logger.Debug("taking screenshot", "command", g.argv[0], "path", path)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if detail := strings.TrimSpace(stderr.String()); detail != "" {
			return "", fmt.Errorf("%s: %w: %s", g.argv[0], err, detail)
		}
		return "", fmt.Errorf("%s: %w", g.argv[0], err)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%s wrote no screenshot: %w", g.argv[0], err)
	}
	return path, nil
}
