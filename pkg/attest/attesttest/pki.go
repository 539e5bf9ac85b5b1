// Package attesttest builds throwaway certificate hierarchies and signed attestation documents for tests.
package attesttest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"strconv"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/stretchr/testify/require"
	"github.com/veraison/go-cose"
)

// PCRSize is the digest width used for generated PCRs (SHA384).
const PCRSize = 48

// PKI is a root, a chain of intermediates and a leaf signing certificate.
type PKI struct {
	Root    *x509.Certificate
	RootKey *ecdsa.PrivateKey
	// Intermediates are ordered from the root side to the leaf side.
	Intermediates []*x509.Certificate
	Leaf          *x509.Certificate
	LeafKey       *ecdsa.PrivateKey
}

type pkiConfig struct {
	intermediates int
	leafNotBefore time.Time
	leafNotAfter  time.Time
}

// Option configures NewPKI.
type Option func(*pkiConfig)

// WithIntermediates sets how many intermediate CAs sit between root and leaf.
func WithIntermediates(n int) Option {
	return func(c *pkiConfig) { c.intermediates = n }
}

// WithLeafValidity sets the leaf certificate validity window.
func WithLeafValidity(notBefore, notAfter time.Time) Option {
	return func(c *pkiConfig) {
		c.leafNotBefore = notBefore
		c.leafNotAfter = notAfter
	}
}

// NewPKI creates a P-384 hierarchy, by default with three intermediates like the Nitro bundle.
func NewPKI(t testing.TB, opts ...Option) *PKI {
	t.Helper()
	now := time.Now()
	cfg := pkiConfig{
		intermediates: 3,
		leafNotBefore: now.Add(-time.Hour),
		leafNotAfter:  now.Add(3 * time.Hour),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rootKey := newKey(t)
	rootTemplate := caTemplate(t, "test-root", now)
	root := createCert(t, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)

	pki := &PKI{Root: root, RootKey: rootKey}
	parent, parentKey := root, rootKey
	for i := 0; i < cfg.intermediates; i++ {
		key := newKey(t)
		cert := createCert(t, caTemplate(t, "test-intermediate-"+strconv.Itoa(i), now), parent, &key.PublicKey, parentKey)
		pki.Intermediates = append(pki.Intermediates, cert)
		parent, parentKey = cert, key
	}

	leafKey := newKey(t)
	leafTemplate := &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: "test-leaf"},
		NotBefore:             cfg.leafNotBefore,
		NotAfter:              cfg.leafNotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	pki.Leaf = createCert(t, leafTemplate, parent, &leafKey.PublicKey, parentKey)
	pki.LeafKey = leafKey
	return pki
}

// CABundle returns the bundle in attestation module order: root first, leaf issuer last.
func (p *PKI) CABundle() [][]byte {
	bundle := [][]byte{p.Root.Raw}
	for _, cert := range p.Intermediates {
		bundle = append(bundle, cert.Raw)
	}
	return bundle
}

// RootPEM returns the root certificate PEM encoded.
func (p *PKI) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: p.Root.Raw})
}

// PCRValue returns the deterministic digest used for PCR index.
func PCRValue(index uint) []byte {
	return bytes.Repeat([]byte{byte(index + 1)}, PCRSize)
}

// Document returns an attestation document signed-for by the leaf, carrying PCR0-4.
func (p *PKI) Document(publicKey, nonce, userData attest.OptionalBytes) *attest.AttestationDocument {
	pcrs := make(map[uint][]byte)
	for i := uint(0); i < 5; i++ {
		pcrs[i] = PCRValue(i)
	}
	return &attest.AttestationDocument{
		ModuleID:    "i-0123456789abcdef0-enc0123456789abcdef",
		Digest:      "SHA384",
		Timestamp:   uint64(time.Now().UnixMilli()),
		PCRs:        pcrs,
		Certificate: p.Leaf.Raw,
		CABundle:    p.CABundle(),
		PublicKey:   publicKey,
		Nonce:       nonce,
		UserData:    userData,
	}
}

// Sign encodes doc and signs it with the leaf key, returning an untagged COSE_Sign1 as emitted
// by the attestation module.
func (p *PKI) Sign(t testing.TB, doc *attest.AttestationDocument) []byte {
	t.Helper()
	msg := p.signMessage(t, doc)
	raw, err := (*cose.UntaggedSign1Message)(msg).MarshalCBOR()
	require.NoError(t, err)
	return raw
}

// SignTagged is Sign with the COSE_Sign1 CBOR tag.
func (p *PKI) SignTagged(t testing.TB, doc *attest.AttestationDocument) []byte {
	t.Helper()
	raw, err := p.signMessage(t, doc).MarshalCBOR()
	require.NoError(t, err)
	return raw
}

func (p *PKI) signMessage(t testing.TB, doc *attest.AttestationDocument) *cose.Sign1Message {
	t.Helper()
	payload, err := cbor.Marshal(doc)
	require.NoError(t, err)

	signer, err := cose.NewSigner(cose.AlgorithmES384, p.LeafKey)
	require.NoError(t, err)

	msg := cose.NewSign1Message()
	msg.Headers.Protected.SetAlgorithm(cose.AlgorithmES384)
	msg.Payload = payload
	require.NoError(t, msg.Sign(rand.Reader, nil, signer))
	return msg
}

// Module is an attest.Module that signs documents with a PKI, standing in for the NSM.
type Module struct {
	T   testing.TB
	PKI *PKI
	Err error
}

// Attest implements attest.Module.
func (m *Module) Attest(publicKey, nonce, userData attest.OptionalBytes) ([]byte, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.PKI.Sign(m.T, m.PKI.Document(publicKey, nonce, userData)), nil
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	return key
}

func serial(t testing.TB) *big.Int {
	t.Helper()
	n, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	require.NoError(t, err)
	return n
}

func caTemplate(t testing.TB, name string, now time.Time) *x509.Certificate {
	t.Helper()
	return &x509.Certificate{
		SerialNumber:          serial(t),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func createCert(t testing.TB, template, parent *x509.Certificate, pub *ecdsa.PublicKey, parentKey *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, parentKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}
