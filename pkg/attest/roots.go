package attest

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/spf13/afero"
)

// DefaultRootPath is where the trusted root certificate is read from when no path is given.
const DefaultRootPath = "./root.pem"

// LoadRootCertificate reads a PEM encoded X.509 certificate from path on fsys.
func LoadRootCertificate(fsys afero.Fs, path string) (*x509.Certificate, error) {
	if path == "" {
		path = DefaultRootPath
	}
	pemBytes, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, err)
	}
	return ParseRootCertificate(pemBytes)
}

// ParseRootCertificate parses the first CERTIFICATE block of pemBytes.
func ParseRootCertificate(pemBytes []byte) (*x509.Certificate, error) {
	for {
		var block *pem.Block
		block, pemBytes = pem.Decode(pemBytes)
		if block == nil {
			return nil, fmt.Errorf("%w: no CERTIFICATE block found", ErrRootUnreadable)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRootUnreadable, err)
		}
		return cert, nil
	}
}

// RootStore holds the trusted root certificates. It is immutable after construction and
// safe for concurrent use.
type RootStore struct {
	roots []*x509.Certificate
}

// NewRootStore creates a RootStore from already parsed roots.
func NewRootStore(roots ...*x509.Certificate) *RootStore {
	return &RootStore{roots: append([]*x509.Certificate(nil), roots...)}
}

// LoadRootStore reads one root certificate per path.
func LoadRootStore(fsys afero.Fs, paths ...string) (*RootStore, error) {
	if len(paths) == 0 {
		paths = []string{DefaultRootPath}
	}
	roots := make([]*x509.Certificate, 0, len(paths))
	for _, path := range paths {
		root, err := LoadRootCertificate(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("load root %q: %w", path, err)
		}
		roots = append(roots, root)
	}
	return &RootStore{roots: roots}, nil
}

// Roots returns the trusted roots.
func (s *RootStore) Roots() []*x509.Certificate {
	if s == nil {
		return nil
	}
	return append([]*x509.Certificate(nil), s.roots...)
}

// Len returns the number of trusted roots.
func (s *RootStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.roots)
}
