package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rhodey/lock.host/pkg/server"
	"github.com/urfave/cli/v3"
)

const appName = "lockhost-attest"

func main() {
	logger := server.DefaultLogger(appName, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp().Run(ctx, os.Args); err != nil {
		logger.Fatal().Err(err).Msg("Command failed.")
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  appName,
		Usage: "Generate, verify and relay enclave attestation documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "zerolog level",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return ctx, server.SetLevel(cmd.String("log-level"))
		},
		Commands: []*cli.Command{
			generateCommand(),
			verifyCommand(),
			serveCommand(),
			relayCommand(),
		},
	}
}
