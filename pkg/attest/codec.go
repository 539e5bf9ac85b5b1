package attest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

// cbor tag 18 (COSE_Sign1) encoded as a single-byte head.
const coseSign1TagByte = 0xd2

var devPrefix = []byte(DevSentinel + devDelimiter)

// DecodeBase64 decodes a base64 transported attestation document and then calls Decode.
func DecodeBase64(doc string) (*Decoded, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(doc))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %w", ErrMalformedEnvelope, err)
	}
	return Decode(raw)
}

// Decode decodes raw attestation bytes. Bytes starting with the development sentinel are
// parsed as a DevRecord, everything else as a COSE_Sign1 envelope wrapping a CBOR attestation document.
func Decode(raw []byte) (*Decoded, error) {
	if bytes.HasPrefix(raw, devPrefix) {
		record, err := decodeDevRecord(raw)
		if err != nil {
			return nil, err
		}
		return &Decoded{Dev: record}, nil
	}

	envelope, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	doc, err := decodeDocument(envelope.Payload())
	if err != nil {
		return nil, err
	}
	return &Decoded{Envelope: envelope, Document: doc}, nil
}

func decodeEnvelope(raw []byte) (*Envelope, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedEnvelope)
	}
	if raw[0] == coseSign1TagByte {
		var msg cose.Sign1Message
		if err := msg.UnmarshalCBOR(raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
		}
		return &Envelope{Message: &msg, Tagged: true}, nil
	}

	// The attestation module emits untagged COSE_Sign1 arrays.
	var untagged cose.UntaggedSign1Message
	if err := untagged.UnmarshalCBOR(raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	msg := cose.Sign1Message(untagged)
	return &Envelope{Message: &msg}, nil
}

func decodeDocument(payload []byte) (*AttestationDocument, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: payload is empty", ErrMalformedPayload)
	}
	var doc AttestationDocument
	if err := cbor.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	return &doc, nil
}

func decodeDevRecord(raw []byte) (*DevRecord, error) {
	fields := strings.Split(string(raw), devDelimiter)
	if len(fields) < devFieldCount {
		return nil, fmt.Errorf("%w: development record has %d fields, want %d", ErrMalformedEnvelope, len(fields), devFieldCount)
	}
	// fields[0] is the sentinel; anything past fields[6] is ignored.
	optionals := make([]OptionalBytes, 3)
	for i, name := range []string{"public_key", "nonce", "user_data"} {
		value, err := decodeDevField(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: development record %s: %w", ErrMalformedEnvelope, name, err)
		}
		optionals[i] = value
	}
	return NewDevRecord(optionals[0], optionals[1], optionals[2], fields[4]), nil
}

// decodeDevField maps the empty string to absent.
func decodeDevField(field string) (OptionalBytes, error) {
	if field == "" {
		return None(), nil
	}
	value, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		return None(), err
	}
	return Some(value), nil
}

// EncodeDevRecord serializes record to its plaintext wire form. It is the inverse of the
// development branch of Decode. Present-but-empty fields serialize like absent ones.
func EncodeDevRecord(record *DevRecord) []byte {
	fields := []string{
		DevSentinel,
		record.PublicKey.Base64(),
		record.Nonce.Base64(),
		record.UserData.Base64(),
		record.PCR0,
		ZeroDigestHex,
		ZeroDigestHex,
	}
	return []byte(strings.Join(fields, devDelimiter))
}

// EncodeEnvelope serializes an envelope back to COSE_Sign1 bytes, keeping its tagging.
func EncodeEnvelope(envelope *Envelope) ([]byte, error) {
	if envelope.Tagged {
		return envelope.Message.MarshalCBOR()
	}
	return (*cose.UntaggedSign1Message)(envelope.Message).MarshalCBOR()
}
