package attest

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// DefaultMeasurementPath is the well-known file holding the development PCR0 stand-in.
const DefaultMeasurementPath = "/hash.txt"

// Module is the attestation module that turns caller data into a raw signed envelope.
type Module interface {
	Attest(publicKey, nonce, userData OptionalBytes) ([]byte, error)
}

// Request holds the caller data bound into a generated document.
type Request struct {
	PublicKey OptionalBytes
	Nonce     OptionalBytes
	UserData  OptionalBytes
}

// Generator produces base64 encoded attestation documents in a fixed mode.
type Generator struct {
	mode            Mode
	module          Module
	fs              afero.Fs
	measurementPath string
	logger          zerolog.Logger
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithModule sets the attestation module used in production mode.
func WithModule(module Module) GeneratorOption {
	return func(g *Generator) { g.module = module }
}

// WithMeasurement sets where the development measurement is read from.
func WithMeasurement(fsys afero.Fs, path string) GeneratorOption {
	return func(g *Generator) {
		g.fs = fsys
		g.measurementPath = path
	}
}

// WithGeneratorLogger sets the generator logger.
func WithGeneratorLogger(logger zerolog.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = logger }
}

// NewGenerator creates a Generator. Production mode requires a Module.
func NewGenerator(mode Mode, opts ...GeneratorOption) (*Generator, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	gen := &Generator{
		mode:            mode,
		fs:              afero.NewOsFs(),
		measurementPath: DefaultMeasurementPath,
		logger:          zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(gen)
	}
	if mode == ModeProduction && gen.module == nil {
		return nil, fmt.Errorf("%w: production mode requires an attestation module", ErrInvalidMode)
	}
	gen.logger = gen.logger.With().Str("component", "generator").Str("mode", mode.String()).Logger()
	return gen, nil
}

// Mode returns the generator's mode.
func (g *Generator) Mode() Mode {
	return g.mode
}

// Generate produces a base64 encoded attestation document binding req.
func (g *Generator) Generate(req Request) (string, error) {
	if g.mode == ModeProduction {
		return g.generateProduction(req)
	}
	return g.generateDevelopment(req)
}

func (g *Generator) generateProduction(req Request) (string, error) {
	document, err := g.module.Attest(req.PublicKey, req.Nonce, req.UserData)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if len(document) == 0 {
		return "", fmt.Errorf("%w: attestation module returned an empty document", ErrGenerationFailed)
	}
	g.logger.Debug().Int("size", len(document)).Msg("Generated attestation document.")
	return base64.StdEncoding.EncodeToString(document), nil
}

func (g *Generator) generateDevelopment(req Request) (string, error) {
	measurement, err := afero.ReadFile(g.fs, g.measurementPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMeasurementUnavailable, err)
	}
	pcr0 := strings.TrimSpace(string(measurement))
	if pcr0 == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMeasurementUnavailable, g.measurementPath)
	}
	record := NewDevRecord(req.PublicKey, req.Nonce, req.UserData, pcr0)
	g.logger.Warn().Msg("Generated development attestation document; it is unauthenticated.")
	return base64.StdEncoding.EncodeToString(EncodeDevRecord(record)), nil
}

// ParseMode maps a configuration value to a Mode. The empty string selects development so that
// production is only ever chosen explicitly.
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "prod", "production":
		return ModeProduction, nil
	case "", "0", "false", "dev", "development":
		return ModeDevelopment, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidMode, value)
	}
}
