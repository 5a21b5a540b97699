package main

import (
	"embed"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"magnus/internal/config"
	"magnus/internal/logging"
)

//go:embed all:frontend/dist
var assets embed.FS

var cli struct {
	Config string `short:"c" help:"Path to magnus.toml" type:"path"`
	Debug  bool   `help:"Enable debug logging"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("magnus"),
		kong.Description("A desktop assistant you can type or talk to."),
	)

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "magnus:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	logger, closer, err := logging.Setup(logging.Options{Path: cfg.Logging.Path, Level: cfg.Logging.Level, Debug: cli.Debug})
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.Info("magnus starting", "config", cfg.Path, "llm", cfg.LLM.Provider)

	app := NewApp(cfg, logger)
	return wails.Run(&options.App{
		Title:     "Magnus",
		Width:     480,
		Height:    720,
		MinWidth:  360,
		MinHeight: 480,
		AssetServer: &assetserver.Options{
			Assets: assets,
		},
		OnStartup:  app.startup,
		OnShutdown: app.shutdown,
		Bind: []interface{}{
			app,
		},
	})
}
