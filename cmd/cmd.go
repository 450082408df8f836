package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"github.com/webitel/im-coalescer-service/config"
)

const (
	ServiceName      = "im-coalescer-service"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:    ServiceName,
		Usage:   "Realtime update coalescer for Webitel IM",
		Version: version + " (" + commit + "@" + branch + ")",
		Commands: []*cli.Command{
			serverCmd(),
			topCmd(),
		},
	}

	return app.Run(os.Args)
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the coalescer node (HTTP, gRPC health and bus intake)",
		// Flags belong to config.LoadConfig so that flag, env and file
		// precedence is resolved in one place.
		SkipFlagParsing: true,
		Action: func(c *cli.Context) error {
			cfg, err := config.LoadConfig(c.Args().Slice())
			if err != nil {
				return err
			}
			app := NewApp(cfg)
			if err := app.Err(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := app.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()

			slog.Info("SHUTDOWN_REQUESTED", "timeout", app.StopTimeout())
			ctx, cancel := context.WithTimeout(context.Background(), app.StopTimeout())
			defer cancel()
			return app.Stop(ctx)
		},
	}
}
