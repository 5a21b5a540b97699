package screenshot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "shot.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/usr/bin/env bash\n"+body), 0o700))
	return script
}

func TestGrabberSubstitutesThePath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	script := writeScript(t, "[ \"$1\" = \"-x\" ] || exit 9\nprintf png > \"$2\"\n")
	grabber := NewGrabber(script+" -x "+FilePlaceholder, dir, nil)
	grabber.now = func() time.Time { return time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC) }

	path, err := grabber.Capture(context.Background())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "screenshot-20261019-093000.000.png"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "png", string(data))
}

func TestGrabberAppendsPathWithoutPlaceholder(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "printf png > \"$1\"\n")
	path, err := NewGrabber(script, t.TempDir(), nil).Capture(context.Background())
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(path, ".png"))
}

func TestGrabberFailures(t *testing.T) {
	t.Parallel()

	_, err := NewGrabber("  ", t.TempDir(), nil).Capture(context.Background())
	require.ErrorIs(t, err, ErrNoCommand)

	script := writeScript(t, "echo 'no display' 1>&2\nexit 1\n")
	_, err = NewGrabber(script, t.TempDir(), nil).Capture(context.Background())
	require.ErrorContains(t, err, "no display")

	_, err = NewGrabber(writeScript(t, "exit 0\n"), t.TempDir(), nil).Capture(context.Background())
	require.ErrorContains(t, err, "wrote no screenshot")
}

func TestGrabberHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewGrabber(writeScript(t, "exec sleep 5\n"), t.TempDir(), nil).Capture(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
