package config

import (
	"github.com/rhodey/lock.host/pkg/attest"
)

// Settings contains the application config
type Settings struct {
	// Prod selects production attestation, see attest.ParseMode.
	Prod     string `yaml:"PROD"`
	LogLevel string `yaml:"LOG_LEVEL"`

	RootPEMPath     string `yaml:"ROOT_PEM_PATH"`
	MeasurementPath string `yaml:"MEASUREMENT_PATH"`

	Port    int `yaml:"PORT"`
	MonPort int `yaml:"MON_PORT"`

	EnclaveCID  uint32 `yaml:"ENCLAVE_CID"`
	EnclavePort uint32 `yaml:"ENCLAVE_PORT"`
	// VsockListen makes the attestation server listen on vsock ENCLAVE_PORT instead of TCP PORT.
	VsockListen bool `yaml:"VSOCK_LISTEN"`
}

// Mode returns the attestation mode selected by PROD.
func (s *Settings) Mode() (attest.Mode, error) {
	return attest.ParseMode(s.Prod)
}

// RootPath returns the configured root certificate path or the default.
func (s *Settings) RootPath() string {
	if s.RootPEMPath == "" {
		return attest.DefaultRootPath
	}
	return s.RootPEMPath
}

// MeasurementFile returns the configured measurement path or the default.
func (s *Settings) MeasurementFile() string {
	if s.MeasurementPath == "" {
		return attest.DefaultMeasurementPath
	}
	return s.MeasurementPath
}
