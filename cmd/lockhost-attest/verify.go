package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/server"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

// errPCR0Mismatch is returned when --expect-pcr0 does not match the verified document.
var errPCR0Mismatch = errors.New("pcr0 does not match expected measurement")

func verifyCommand() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Verify a base64 attestation document and print its bound fields",
		ArgsUsage: "<doc_b64> [root.pem]",
		Flags: []cli.Flag{
			prodFlag(),
			&cli.StringFlag{
				Name:  "expect-pcr0",
				Usage: "fail unless PCR0 equals this hex value",
			},
		},
		Action: runVerify,
	}
}

func runVerify(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() < 1 || cmd.Args().Len() > 2 {
		return fmt.Errorf("expected <doc_b64> [root.pem], got %d arguments", cmd.Args().Len())
	}
	mode, err := attest.ParseMode(cmd.String("prod"))
	if err != nil {
		return err
	}
	logger := server.DefaultLogger(appName, os.Stderr)

	roots, err := loadRoots(afero.NewOsFs(), cmd.Args().Get(1), mode, logger)
	if err != nil {
		return err
	}
	verifier, err := attest.NewVerifier(roots, mode, attest.WithVerifierLogger(*logger))
	if err != nil {
		return err
	}
	record, err := verifier.VerifyBase64(cmd.Args().Get(0))
	if err != nil {
		return err
	}
	if expected := cmd.String("expect-pcr0"); expected != "" {
		if err := checkPCR0(record, expected); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(cmd.Root().Writer, record.String())
	return err
}

// loadRoots reads the trusted root. A development verifier tolerates a missing root because
// development records are never chain checked.
func loadRoots(fsys afero.Fs, path string, mode attest.Mode, logger *zerolog.Logger) (*attest.RootStore, error) {
	roots, err := attest.LoadRootStore(fsys, rootPathOrDefault(path))
	if err == nil {
		return roots, nil
	}
	if mode == attest.ModeProduction {
		return nil, err
	}
	logger.Warn().Err(err).Msg("No trusted root loaded; only development documents will verify.")
	return attest.NewRootStore(), nil
}

func rootPathOrDefault(path string) string {
	if path == "" {
		return attest.DefaultRootPath
	}
	return path
}

func checkPCR0(record *attest.NormalizedRecord, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	// compare what consumers of the printed line see
	parsed, err := attest.ParseLine(record.String())
	if err != nil {
		return err
	}
	if !parsed.PCRs[0].Present || parsed.PCRs[0].Hex != expected {
		return fmt.Errorf("%w: got %q", errPCR0Mismatch, parsed.PCRs[0].Hex)
	}
	return nil
}
