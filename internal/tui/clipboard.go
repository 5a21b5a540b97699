package tui

import (
	"context"
	"fmt"

	"github.com/atotto/clipboard"
)

// SystemClipboard copies through the host clipboard tool (xclip, xsel, wl-copy, pbcopy or the
// Windows API).
type SystemClipboard struct {
	write func(string) error
}

func NewSystemClipboard() *SystemClipboard {
	return &SystemClipboard{write: clipboard.WriteAll}
}

func (c *SystemClipboard) SetText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}
