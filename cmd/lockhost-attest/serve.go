package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/DIMO-Network/shared"
	"github.com/mdlayher/vsock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhodey/lock.host/internal/app"
	"github.com/rhodey/lock.host/internal/config"
	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/metrics"
	"github.com/rhodey/lock.host/pkg/server"
	"github.com/rhodey/lock.host/pkg/wellknown"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func settingsFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "settings",
		Usage: "settings file",
		Value: "settings.yaml",
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Serve the attestation and verify endpoints",
		Flags:  []cli.Flag{settingsFlag()},
		Action: runServe,
	}
}

func loadSettings(cmd *cli.Command) (*config.Settings, *zerolog.Logger, error) {
	logger := server.DefaultLogger(appName, os.Stderr)
	settings, err := shared.LoadConfig[config.Settings](cmd.String("settings"))
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't load settings: %w", err)
	}
	if err := server.SetLevel(settings.LogLevel); err != nil {
		return nil, nil, fmt.Errorf("couldn't set log level: %w", err)
	}
	return &settings, logger, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	settings, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	mode, err := settings.Mode()
	if err != nil {
		return err
	}
	logger.Info().Str("mode", mode.String()).Msg("Starting attestation server.")

	ctrl, err := newController(settings, mode, afero.NewOsFs(), logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	attestApp := app.CreateAttestServer(logger, ctrl)
	monApp := app.CreateMonitoringServer()

	group, groupCtx := errgroup.WithContext(ctx)
	logger.Info().Str("port", strconv.Itoa(settings.MonPort)).Msg("Starting monitoring server")
	server.RunFiber(groupCtx, monApp, ":"+strconv.Itoa(settings.MonPort), group)

	if settings.VsockListen {
		var listener net.Listener
		listener, err = vsock.Listen(settings.EnclavePort, nil)
		if err != nil {
			return fmt.Errorf("couldn't listen on vsock port %d: %w", settings.EnclavePort, err)
		}
		logger.Info().Str("addr", listener.Addr().String()).Msg("Starting attestation server on vsock")
		server.RunFiberWithListener(groupCtx, attestApp, listener, group)
	} else {
		logger.Info().Str("port", strconv.Itoa(settings.Port)).Msg("Starting attestation server")
		server.RunFiber(groupCtx, attestApp, ":"+strconv.Itoa(settings.Port), group)
	}
	return group.Wait()
}

func newController(settings *config.Settings, mode attest.Mode, fsys afero.Fs, logger *zerolog.Logger, reg prometheus.Registerer) (*wellknown.Controller, error) {
	genOpts := []attest.GeneratorOption{
		attest.WithMeasurement(fsys, settings.MeasurementFile()),
		attest.WithGeneratorLogger(*logger),
	}
	if mode == attest.ModeProduction {
		genOpts = append(genOpts, attest.WithModule(attest.NewNSMModule()))
	}
	gen, err := attest.NewGenerator(mode, genOpts...)
	if err != nil {
		return nil, err
	}

	roots, err := loadRoots(fsys, settings.RootPath(), mode, logger)
	if err != nil {
		return nil, err
	}
	verifier, err := attest.NewVerifier(roots, mode, attest.WithVerifierLogger(*logger))
	if err != nil {
		return nil, err
	}

	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("couldn't register metrics: %w", err)
	}
	return wellknown.NewController(gen, verifier, m), nil
}
