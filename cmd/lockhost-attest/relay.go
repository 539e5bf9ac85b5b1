package main

import (
	"context"
	"strconv"

	"github.com/rhodey/lock.host/internal/app"
	"github.com/rhodey/lock.host/pkg/server"
	"github.com/rhodey/lock.host/pkg/tunnel"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func relayCommand() *cli.Command {
	return &cli.Command{
		Name:   "relay",
		Usage:  "Relay TCP PORT into the enclave and enclave requests on ENCLAVE_PORT+1 out to TCP targets",
		Flags:  []cli.Flag{settingsFlag()},
		Action: runRelay,
	}
}

func runRelay(ctx context.Context, cmd *cli.Command) error {
	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	serverTunnel := tunnel.NewServerTunnel(settings.EnclaveCID, settings.EnclavePort, *logger)
	defer serverTunnel.Stop()
	clientTunnel := tunnel.NewClientTunnel(settings.EnclavePort+1, 0, *logger)
	monApp := app.CreateMonitoringServer()

	group, groupCtx := errgroup.WithContext(ctx)
	logger.Info().Str("port", strconv.Itoa(settings.MonPort)).Msg("Starting monitoring server")
	server.RunFiber(groupCtx, monApp, ":"+strconv.Itoa(settings.MonPort), group)
	logger.Info().Str("port", strconv.Itoa(settings.Port)).Uint32("cid", settings.EnclaveCID).Msg("Starting server tunnel")
	server.RunProxy(groupCtx, serverTunnel, ":"+strconv.Itoa(settings.Port), group)
	logger.Info().Uint32("port", clientTunnel.Port()).Msg("Starting client tunnel")
	group.Go(func() error {
		return clientTunnel.ListenForTargetRequests(groupCtx)
	})
	return group.Wait()
}
