package attest

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// pcrIndices are the registers extracted into a NormalizedRecord.
var pcrIndices = [3]uint{0, 1, 2}

// Verifier decodes and validates attestation documents against a trusted RootStore.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	roots  *RootStore
	mode   Mode
	now    func() time.Time
	logger zerolog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithClock sets the time source used for certificate validity checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithVerifierLogger sets the verifier logger.
func WithVerifierLogger(logger zerolog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a Verifier. A production verifier rejects development records.
func NewVerifier(roots *RootStore, mode Mode, opts ...VerifierOption) (*Verifier, error) {
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
	v := &Verifier{
		roots:  roots,
		mode:   mode,
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With().Str("component", "verifier").Str("mode", mode.String()).Logger()
	return v, nil
}

// VerifyBase64 decodes a base64 transported document and verifies it.
func (v *Verifier) VerifyBase64(doc string) (*NormalizedRecord, error) {
	decoded, err := DecodeBase64(doc)
	if err != nil {
		return nil, err
	}
	return v.verifyDecoded(decoded)
}

// Verify decodes raw, validates the certificate chain and then the signature, and extracts the
// caller data and PCR0-2. Development records skip both checks and are marked unauthenticated.
func (v *Verifier) Verify(raw []byte) (*NormalizedRecord, error) {
	decoded, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return v.verifyDecoded(decoded)
}

func (v *Verifier) verifyDecoded(decoded *Decoded) (*NormalizedRecord, error) {
	if decoded.IsDevelopment() {
		return v.developmentRecord(decoded.Dev)
	}

	doc := decoded.Document
	logger := v.logger.With().Str("moduleId", doc.ModuleID).Logger()

	trusted, err := v.validateChain(doc)
	if err != nil {
		return nil, err
	}
	if !trusted {
		logger.Warn().Msg("Attestation certificate chain is not trusted.")
		return nil, fmt.Errorf("%w: leaf certificate does not chain to a trusted root", ErrChainInvalid)
	}
	logger.Debug().Msg("Certificate chain is valid.")

	signed, err := ValidateSignature(decoded.Envelope, doc)
	if err != nil {
		return nil, err
	}
	if !signed {
		logger.Warn().Msg("Attestation signature is invalid.")
		return nil, fmt.Errorf("%w: envelope was not signed by the leaf certificate", ErrSignatureInvalid)
	}
	logger.Debug().Msg("Attestation signature is valid.")

	record := &NormalizedRecord{
		PublicKey:     doc.PublicKey,
		Nonce:         doc.Nonce,
		UserData:      doc.UserData,
		Authenticated: true,
	}
	for i, index := range pcrIndices {
		value, ok := doc.PCRHex(index)
		record.PCRs[i] = PCR{Index: index, Hex: value, Present: ok}
	}
	return record, nil
}

// validateChain tries every trusted root and succeeds on the first that validates.
func (v *Verifier) validateChain(doc *AttestationDocument) (bool, error) {
	if v.roots.Len() == 0 {
		return false, fmt.Errorf("%w: no trusted roots loaded", ErrRootUnreadable)
	}
	at := v.now()
	for _, root := range v.roots.Roots() {
		ok, err := ValidateChain(doc, root, at)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (v *Verifier) developmentRecord(dev *DevRecord) (*NormalizedRecord, error) {
	if v.mode == ModeProduction {
		v.logger.Warn().Msg("Rejected development attestation document.")
		return nil, fmt.Errorf("%w: production verifier does not accept %s records", ErrUnauthenticatedDocument, DevSentinel)
	}
	v.logger.Warn().Msg("Development attestation document is unauthenticated; skipping chain and signature checks.")
	return &NormalizedRecord{
		PublicKey: dev.PublicKey,
		Nonce:     dev.Nonce,
		UserData:  dev.UserData,
		PCRs: [3]PCR{
			{Index: 0, Hex: dev.PCR0, Present: true},
			{Index: 1, Hex: dev.PCR1, Present: true},
			{Index: 2, Hex: dev.PCR2, Present: true},
		},
	}, nil
}
