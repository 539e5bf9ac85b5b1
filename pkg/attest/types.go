package attest

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

const (
	// DevSentinel prefixes every development attestation record.
	DevSentinel = "testdoc"
	// devDelimiter separates development record fields.
	devDelimiter = ","
	// devFieldCount is the sentinel plus public key, nonce, user data and three PCRs.
	devFieldCount = 7
)

// ZeroDigestHex is the fixed-width all-zero digest used for PCR1 and PCR2 of development records.
var ZeroDigestHex = strings.Repeat("0", 100)

// cborNull is the CBOR encoding of null.
var cborNull = []byte{0xf6}

// OptionalBytes is a byte string that may be absent. Absent and present-but-empty are distinct.
type OptionalBytes struct {
	value   []byte
	present bool
}

// Some returns a present OptionalBytes holding b. A nil b is stored as an empty, present value.
func Some(b []byte) OptionalBytes {
	if b == nil {
		b = []byte{}
	}
	return OptionalBytes{value: b, present: true}
}

// None returns an absent OptionalBytes.
func None() OptionalBytes {
	return OptionalBytes{}
}

// FromNullable maps nil to absent and anything else (including empty) to present.
func FromNullable(b []byte) OptionalBytes {
	if b == nil {
		return None()
	}
	return Some(b)
}

// Present reports whether the value was supplied.
func (o OptionalBytes) Present() bool { return o.present }

// Bytes returns the value, nil when absent.
func (o OptionalBytes) Bytes() []byte {
	if !o.present {
		return nil
	}
	return o.value
}

// Base64 returns the standard base64 encoding of the value, or "" when absent.
func (o OptionalBytes) Base64() string {
	if !o.present {
		return ""
	}
	return base64.StdEncoding.EncodeToString(o.value)
}

// MarshalCBOR encodes an absent value as CBOR null.
func (o OptionalBytes) MarshalCBOR() ([]byte, error) {
	if !o.present {
		return cborNull, nil
	}
	return cbor.Marshal(o.value)
}

// UnmarshalCBOR decodes CBOR null or undefined as absent and a byte string as present.
func (o *OptionalBytes) UnmarshalCBOR(data []byte) error {
	if len(data) == 1 && (data[0] == 0xf6 || data[0] == 0xf7) {
		*o = None()
		return nil
	}
	var value []byte
	if err := cbor.Unmarshal(data, &value); err != nil {
		return err
	}
	*o = Some(value)
	return nil
}

// Mode selects how documents are produced and which documents are accepted.
// The zero value is invalid so that a mode is always chosen explicitly.
type Mode int

const (
	// ModeDevelopment produces and accepts unauthenticated development records.
	ModeDevelopment Mode = iota + 1
	// ModeProduction uses the attestation module and accepts only signed envelopes.
	ModeProduction
)

func (m Mode) String() string {
	switch m {
	case ModeDevelopment:
		return "development"
	case ModeProduction:
		return "production"
	default:
		return "invalid"
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeDevelopment || m == ModeProduction
}

// AttestationDocument represents the attestation document structure.
type AttestationDocument struct {
	// ModuleID is the issuing NSM ID
	ModuleID string `cbor:"module_id"`

	// Digest is the digest function used for calculating the register values
	// Can be: "SHA256" | "SHA384" | "SHA512"
	Digest string `cbor:"digest"`

	// Timestamp is the UTC time when document was created expressed as milliseconds since Unix Epoch
	Timestamp uint64 `cbor:"timestamp"`

	// PCRs is the map of all locked PCRs at the moment the attestation document was generated
	PCRs map[uint][]byte `cbor:"pcrs"`

	// Certificate is the infrastructure certificate used to sign the document, DER encoded
	Certificate []byte `cbor:"certificate"`

	// CABundle is the issuing CA bundle for infrastructure certificate, root first
	CABundle [][]byte `cbor:"cabundle"`

	// PublicKey is an optional key the attestation consumer can use to encrypt data with
	PublicKey OptionalBytes `cbor:"public_key"`

	// UserData is additional signed user data, as defined by protocol
	UserData OptionalBytes `cbor:"user_data"`

	// Nonce is an optional cryptographic nonce provided by the attestation consumer as a proof of authenticity
	Nonce OptionalBytes `cbor:"nonce"`
}

// PCRHex returns the lowercase hex digest of PCR index and whether it is present.
func (d *AttestationDocument) PCRHex(index uint) (string, bool) {
	value, ok := d.PCRs[index]
	if !ok {
		return "", false
	}
	return hex.EncodeToString(value), true
}

// Envelope is a decoded COSE_Sign1 signed envelope.
type Envelope struct {
	// Message is the decoded COSE_Sign1 structure.
	Message *cose.Sign1Message
	// Tagged is true when the envelope carried the COSE_Sign1 CBOR tag.
	Tagged bool
}

// Payload returns the signed payload bytes.
func (e *Envelope) Payload() []byte {
	return e.Message.Payload
}

// Algorithm returns the signing algorithm declared in the protected header.
func (e *Envelope) Algorithm() (cose.Algorithm, error) {
	return e.Message.Headers.Protected.Algorithm()
}

// DevRecord is the plaintext development-mode stand-in for an attestation document.
type DevRecord struct {
	PublicKey OptionalBytes
	Nonce     OptionalBytes
	UserData  OptionalBytes
	// PCR0 is the locally measured value, lowercase hex.
	PCR0 string
	// PCR1 and PCR2 are always ZeroDigestHex.
	PCR1 string
	PCR2 string
}

// NewDevRecord builds a development record with the fixed zero PCR1 and PCR2.
func NewDevRecord(publicKey, nonce, userData OptionalBytes, pcr0 string) *DevRecord {
	return &DevRecord{
		PublicKey: publicKey,
		Nonce:     nonce,
		UserData:  userData,
		PCR0:      strings.ToLower(strings.TrimSpace(pcr0)),
		PCR1:      ZeroDigestHex,
		PCR2:      ZeroDigestHex,
	}
}

// Decoded is the result of decoding attestation bytes. Exactly one of Dev or Envelope is set.
type Decoded struct {
	Dev      *DevRecord
	Envelope *Envelope
	Document *AttestationDocument
}

// IsDevelopment reports whether the bytes were a development record.
func (d *Decoded) IsDevelopment() bool {
	return d.Dev != nil
}

// PCR is a single normalized platform configuration register value.
type PCR struct {
	Index   uint
	Hex     string
	Present bool
}

// NormalizedRecord is the verifier output.
type NormalizedRecord struct {
	PublicKey OptionalBytes
	Nonce     OptionalBytes
	UserData  OptionalBytes
	PCRs      [3]PCR
	// Authenticated is false for development records, which carry no chain or signature.
	Authenticated bool
}

// String renders the record as public_key_b64,nonce_b64,user_data_b64,pcr0_hex,pcr1_hex,pcr2_hex.
func (r *NormalizedRecord) String() string {
	fields := []string{r.PublicKey.Base64(), r.Nonce.Base64(), r.UserData.Base64()}
	for _, pcr := range r.PCRs {
		fields = append(fields, pcr.Hex)
	}
	return strings.Join(fields, devDelimiter)
}
