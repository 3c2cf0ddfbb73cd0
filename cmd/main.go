package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/songbird/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{
		ConfigPath: "config.toml",
		Logger:     logger,
	})

	app := newApp(runner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()

	if err != nil {
		kind := shared.KindOf(err)
		logger.Error("command failed", "kind", kind, "err", err)
		os.Exit(exitCode(kind))
	}
}

// newApp builds the root command around r.
func newApp(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "songbird",
		Usage:   "Manage Spotify accounts, download with the active one, and serve MP3 conversion",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
		},
		Before:   r.Load,
		After:    r.Close,
		Commands: r.register(),
	}
}

// exitCode maps error kinds to process exit codes.
func exitCode(kind shared.Kind) int {
	switch kind {
	case shared.KindConfig:
		return 2
	case shared.KindNetwork:
		return 3
	case shared.KindDownloader:
		return 4
	default:
		return 1
	}
}
