package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	isatty "github.com/mattn/go-isatty"

	"magnus/internal/bootstrap"
	"magnus/internal/config"
	"magnus/internal/logging"
	"magnus/internal/tui"
)

var cli struct {
	Config     string `short:"c" help:"Path to magnus.toml" type:"path"`
	Debug      bool   `help:"Enable debug logging"`
	NoMarkdown bool   `help:"Show assistant replies as plain text"`
	NoHistory  bool   `help:"Send only the current exchange to the assistant"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("magnus-tui"),
		kong.Description("Talk to Magnus from the terminal."),
	)

	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		fmt.Fprintln(os.Stderr, "magnus-tui requires a terminal.")
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "magnus-tui:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.NoHistory {
		cfg.Session.HistoryEnabled = false
	}

	logger, closer, err := logging.Setup(logging.Options{Path: cfg.Logging.Path, Level: cfg.Logging.Level, Debug: cli.Debug})
	if err != nil {
		return err
	}
	defer closer.Close()

	sink := tui.NewSink()
	services, err := bootstrap.Build(cfg, logger, sink, tui.NewSystemClipboard())
	if err != nil {
		return err
	}

	program := tea.NewProgram(tui.New(services.Session, tui.Options{Markdown: !cli.NoMarkdown}), tea.WithAltScreen())
	sink.Attach(program.Send)

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := services.Start(startCtx); err != nil {
		return err
	}
	slog.Info("terminal session started", "config", cfg.Path)

	_, runErr := program.Run()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := services.Stop(stopCtx); err != nil {
		logger.Warn("shutdown failed", "error", err)
	}
	return runErr
}
