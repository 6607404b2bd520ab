package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/MrSnakeDoc/stackwatch/internal/app"
	"github.com/MrSnakeDoc/stackwatch/internal/config"
	"github.com/MrSnakeDoc/stackwatch/internal/domain"
	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/version"
)

var CLI struct {
	EnvFile string           `name:"env-file" help:"Load environment variables from a dotenv file (existing variables win)." type:"path"`
	Version kong.VersionFlag `help:"Print version information and exit."`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("stackwatch"),
		kong.Description("Watches BASE_PATH and keeps one docker compose project per service directory in sync."),
		kong.Vars{"version": version.String()},
	)

	if err := config.LoadEnvFile(CLI.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()
	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, loggerClient)
	if err != nil {
		var wse *domain.WatchSetupError
		if errors.As(err, &wse) {
			loggerClient.Error("cannot watch base path", logger.String("path", wse.Path), logger.Error(wse.Err))
		} else {
			loggerClient.Error("startup failed", logger.Error(err))
		}
		_ = loggerClient.Sync()
		stop()
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		loggerClient.Error("stackwatch stopped with an error", logger.Error(err))
		_ = loggerClient.Sync()
		stop()
		os.Exit(1)
	}
}
