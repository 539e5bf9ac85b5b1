package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/server"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

// nullArg marks an absent optional argument.
const nullArg = "null"

func generateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Print a base64 attestation document binding the given fields",
		ArgsUsage: "<public_key|null> <nonce|null> <user_data|null>",
		Flags: []cli.Flag{
			prodFlag(),
			&cli.StringFlag{
				Name:    "measurement",
				Usage:   "development PCR0 file",
				Value:   attest.DefaultMeasurementPath,
				Sources: cli.EnvVars("MEASUREMENT_PATH"),
			},
		},
		Action: runGenerate,
	}
}

func runGenerate(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() > 3 {
		return fmt.Errorf("expected at most 3 arguments, got %d", cmd.Args().Len())
	}
	var req attest.Request
	targets := []*attest.OptionalBytes{&req.PublicKey, &req.Nonce, &req.UserData}
	for i, target := range targets {
		value, err := parseOptionalArg(cmd.Args().Get(i))
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		*target = value
	}

	mode, err := attest.ParseMode(cmd.String("prod"))
	if err != nil {
		return err
	}
	logger := server.DefaultLogger(appName, os.Stderr)
	opts := []attest.GeneratorOption{
		attest.WithMeasurement(afero.NewOsFs(), cmd.String("measurement")),
		attest.WithGeneratorLogger(*logger),
	}
	if mode == attest.ModeProduction {
		opts = append(opts, attest.WithModule(attest.NewNSMModule()))
	}
	gen, err := attest.NewGenerator(mode, opts...)
	if err != nil {
		return err
	}
	doc, err := gen.Generate(req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, doc)
	return err
}

// parseOptionalArg maps "" and "null" to absent and anything else to its base64 decoding.
func parseOptionalArg(arg string) (attest.OptionalBytes, error) {
	if arg == "" || arg == nullArg {
		return attest.None(), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(arg)
	if err != nil {
		return attest.None(), fmt.Errorf("invalid base64: %w", err)
	}
	return attest.Some(decoded), nil
}

func prodFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "prod",
		Usage:   "production attestation (true/false)",
		Sources: cli.EnvVars("PROD"),
	}
}
