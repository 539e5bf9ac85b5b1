package attest

import (
	"crypto/x509"
	"fmt"

	"github.com/veraison/go-cose"
)

// ValidateSignature reports whether envelope's payload was signed by the private key of doc's
// leaf certificate using the algorithm declared in the envelope's protected header.
// A signature that does not verify, an unsupported algorithm, or a key that does not match the
// declared algorithm returns false with a nil error.
func ValidateSignature(envelope *Envelope, doc *AttestationDocument) (bool, error) {
	if envelope == nil || envelope.Message == nil {
		return false, fmt.Errorf("%w: no envelope", ErrMalformedEnvelope)
	}
	cert, err := x509.ParseCertificate(doc.Certificate)
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrKeyExtraction, err)
	}
	if cert.PublicKey == nil {
		return false, fmt.Errorf("%w: certificate has an unsupported public key algorithm", ErrKeyExtraction)
	}

	alg, err := envelope.Algorithm()
	if err != nil {
		return false, nil //nolint:nilerr // no declared algorithm means nothing can verify
	}
	verifier, err := cose.NewVerifier(alg, cert.PublicKey)
	if err != nil {
		return false, nil //nolint:nilerr // the key cannot verify the declared algorithm
	}
	if err := envelope.Message.Verify(nil, verifier); err != nil {
		return false, nil //nolint:nilerr // a failed verification is a negative result
	}
	return true, nil
}
