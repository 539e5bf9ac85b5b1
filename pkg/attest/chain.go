package attest

import (
	"crypto/x509"
	"fmt"
	"slices"
	"time"
)

// BuildIntermediates returns the verification chain for doc: the CA bundle without its first
// entry (the root's own copy) in reverse order, so the certificate adjacent to the leaf comes first.
func BuildIntermediates(doc *AttestationDocument) ([]*x509.Certificate, error) {
	if len(doc.CABundle) == 0 {
		return nil, nil
	}
	bundle := slices.Clone(doc.CABundle[1:])
	slices.Reverse(bundle)

	chain := make([]*x509.Certificate, 0, len(bundle))
	for i, der := range bundle {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: cabundle entry %d: %w", ErrChainBuild, len(doc.CABundle)-1-i, err)
		}
		chain = append(chain, cert)
	}
	return chain, nil
}

// ValidateChain reports whether doc's leaf certificate chains to root through the CA bundle at
// the given time. A well-formed but untrusted, expired or otherwise invalid chain returns false
// with a nil error; ErrChainBuild is returned only for certificates that cannot be parsed.
func ValidateChain(doc *AttestationDocument, root *x509.Certificate, at time.Time) (bool, error) {
	if root == nil {
		return false, fmt.Errorf("%w: no trusted root supplied", ErrRootUnreadable)
	}
	if len(doc.Certificate) == 0 {
		return false, fmt.Errorf("%w: document has no certificate", ErrChainBuild)
	}
	leaf, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return false, fmt.Errorf("%w: leaf certificate: %w", ErrChainBuild, err)
	}
	chain, err := BuildIntermediates(doc)
	if err != nil {
		return false, err
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	intermediates := x509.NewCertPool()
	for _, cert := range chain {
		intermediates.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leaf.Verify(opts); err != nil {
		return false, nil //nolint:nilerr // an unverifiable chain is a negative result, not a failure
	}
	return true, nil
}
