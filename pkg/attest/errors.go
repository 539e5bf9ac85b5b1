package attest

import "errors"

// AttestError is a typed error for attestation failures.
type AttestError string

func (e AttestError) Error() string { return string(e) }

const (
	// ErrMalformedEnvelope is returned when bytes are neither a signed envelope nor a development record.
	ErrMalformedEnvelope = AttestError("malformed attestation envelope")
	// ErrMalformedPayload is returned when an envelope payload is not a valid attestation document.
	ErrMalformedPayload = AttestError("malformed attestation payload")
	// ErrRootUnreadable is returned when the trusted root certificate cannot be read or parsed.
	ErrRootUnreadable = AttestError("root certificate unreadable")
	// ErrMeasurementUnavailable is returned when the local measurement cannot be read.
	ErrMeasurementUnavailable = AttestError("measurement unavailable")
	// ErrChainBuild is returned when the leaf or a bundle entry is not a well-formed certificate.
	ErrChainBuild = AttestError("certificate chain build failed")
	// ErrChainInvalid is returned when the leaf certificate does not chain to the trusted root.
	ErrChainInvalid = AttestError("certificate chain invalid")
	// ErrKeyExtraction is returned when the leaf certificate public key cannot be extracted.
	ErrKeyExtraction = AttestError("public key extraction failed")
	// ErrSignatureInvalid is returned when the envelope signature does not verify.
	ErrSignatureInvalid = AttestError("attestation signature invalid")
	// ErrGenerationFailed is returned when the attestation module fails to produce a document.
	ErrGenerationFailed = AttestError("attestation generation failed")
	// ErrInvalidMode is returned for an unknown attestation mode.
	ErrInvalidMode = AttestError("invalid attestation mode")
	// ErrUnauthenticatedDocument is returned when a production verifier receives a development document.
	ErrUnauthenticatedDocument = AttestError("unauthenticated development document")
)

// ErrorCategory groups failures by the operator response they need.
type ErrorCategory string

const (
	// CategoryMalformedInput is bad input bytes.
	CategoryMalformedInput ErrorCategory = "malformed-input"
	// CategoryUntrustedInput is well-formed input that failed a trust check.
	CategoryUntrustedInput ErrorCategory = "untrusted-input"
	// CategoryEnvironment is a local setup or collaborator failure.
	CategoryEnvironment ErrorCategory = "environment"
	// CategoryUnknown is anything not produced by this package.
	CategoryUnknown ErrorCategory = "unknown"
)

// Category classifies err.
func Category(err error) ErrorCategory {
	var attestErr AttestError
	if !errors.As(err, &attestErr) {
		return CategoryUnknown
	}
	switch attestErr {
	case ErrMalformedEnvelope, ErrMalformedPayload, ErrChainBuild:
		return CategoryMalformedInput
	case ErrChainInvalid, ErrKeyExtraction, ErrSignatureInvalid, ErrUnauthenticatedDocument:
		return CategoryUntrustedInput
	case ErrRootUnreadable, ErrMeasurementUnavailable, ErrGenerationFailed, ErrInvalidMode:
		return CategoryEnvironment
	default:
		return CategoryUnknown
	}
}
