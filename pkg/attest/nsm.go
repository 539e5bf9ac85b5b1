package attest

import (
	"errors"
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// NSMModule requests attestation documents from the Nitro Secure Module device.
type NSMModule struct {
	open func() (*nsm.Session, error)
}

// NewNSMModule creates a module backed by the default NSM session.
func NewNSMModule() *NSMModule {
	return &NSMModule{open: nsm.OpenDefaultSession}
}

// Attest forwards the optional fields verbatim and returns the raw COSE_Sign1 document.
func (m *NSMModule) Attest(publicKey, nonce, userData OptionalBytes) ([]byte, error) {
	// create a new session
	session, err := m.open()
	if err != nil {
		return nil, fmt.Errorf("failed to open NSM session: %w", err)
	}
	defer session.Close() //nolint:errcheck

	// send the request
	res, err := session.Send(&request.Attestation{
		PublicKey: publicKey.Bytes(),
		Nonce:     nonce.Bytes(),
		UserData:  userData.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send attestation request: %w", err)
	}

	// check for errors
	if res.Error != "" {
		return nil, fmt.Errorf("NSM returned error: %s", res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, errors.New("NSM did not return an attestation document")
	}
	return res.Attestation.Document, nil
}
