// Package wellknown provides fiber controllers for the attestation endpoints.
package wellknown

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/metrics"
	"github.com/rs/zerolog"
)

const (
	maxNonceLength = 64 // Maximum decoded length for nonce parameter
	maxDocLength   = 64 * 1024
)

// Generator produces attestation documents.
type Generator interface {
	Generate(req attest.Request) (string, error)
	Mode() attest.Mode
}

// Verifier checks attestation documents.
type Verifier interface {
	VerifyBase64(doc string) (*attest.NormalizedRecord, error)
}

// AttestationResponse is the response for the attestation endpoint.
type AttestationResponse struct {
	AttestDoc string `json:"attestDoc"`
}

// PCRResponse is a single register of a verified record.
type PCRResponse struct {
	Index uint   `json:"index"`
	Value string `json:"value,omitempty"`
}

// VerifyResponse is the response for the verify endpoint. Absent fields are null.
type VerifyResponse struct {
	PublicKey     *string       `json:"publicKey"`
	Nonce         *string       `json:"nonce"`
	UserData      *string       `json:"userData"`
	PCRs          []PCRResponse `json:"pcrs"`
	Authenticated bool          `json:"authenticated"`
	Line          string        `json:"line"`
}

// RegisterRoutes adds the attestation routes to a fiber app. Either collaborator may be nil.
func RegisterRoutes(app *fiber.App, controller *Controller) {
	if controller.generator != nil {
		app.Group("/.well-known").Get("attestation", controller.GetAttestation)
	}
	if controller.verifier != nil {
		app.Post("/verify", controller.PostVerify)
	}
}

// Controller serves attestation generation and verification.
type Controller struct {
	generator Generator
	verifier  Verifier
	metrics   *metrics.Metrics
}

// NewController creates a new Controller.
func NewController(generator Generator, verifier Verifier, m *metrics.Metrics) *Controller {
	return &Controller{
		generator: generator,
		verifier:  verifier,
		metrics:   m,
	}
}

// GetAttestation godoc
// @Summary Get attestation document
// @Description Generate an attestation document binding the given public key, nonce and user data
// @Tags attestation
// @Produce json
// @Param publicKey query string false "Base64 public key"
// @Param nonce query string false "Base64 nonce"
// @Param userData query string false "Base64 user data"
// @Success 200 {object} AttestationResponse
// @Failure 400 {object} codeResp
// @Failure 500 {object} codeResp
// @Router /.well-known/attestation [get]
func (c *Controller) GetAttestation(ctx *fiber.Ctx) error {
	logger := zerolog.Ctx(ctx.UserContext())

	var req attest.Request
	targets := map[string]*attest.OptionalBytes{
		"publicKey": &req.PublicKey,
		"nonce":     &req.Nonce,
		"userData":  &req.UserData,
	}
	for name, target := range targets {
		value, err := queryBytes(ctx, name)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		*target = value
	}
	if len(req.Nonce.Bytes()) > maxNonceLength {
		return fiber.NewError(fiber.StatusBadRequest, "nonce too long")
	}

	doc, err := c.generator.Generate(req)
	c.metrics.ObserveGenerate(c.generator.Mode(), err)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to generate attestation document")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to generate attestation document")
	}
	return ctx.JSON(AttestationResponse{AttestDoc: doc})
}

// PostVerify godoc
// @Summary Verify attestation document
// @Description Verify a base64 attestation document and return its bound fields
// @Tags attestation
// @Accept plain
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} codeResp
// @Failure 422 {object} codeResp
// @Failure 500 {object} codeResp
// @Router /verify [post]
func (c *Controller) PostVerify(ctx *fiber.Ctx) error {
	logger := zerolog.Ctx(ctx.UserContext())

	body := ctx.Body()
	if len(body) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "empty attestation document")
	}
	if len(body) > maxDocLength {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "attestation document too large")
	}

	record, err := c.verifier.VerifyBase64(string(body))
	c.metrics.ObserveVerify(record, err)
	if err != nil {
		category := attest.Category(err)
		logger.Warn().Err(err).Str("category", string(category)).Msg("Attestation document rejected")
		return fiber.NewError(statusFor(category), err.Error())
	}
	if !record.Authenticated {
		logger.Warn().Msg("Returning unauthenticated development record")
	}
	return ctx.JSON(newVerifyResponse(record))
}

func newVerifyResponse(record *attest.NormalizedRecord) VerifyResponse {
	resp := VerifyResponse{
		PublicKey:     optionalString(record.PublicKey),
		Nonce:         optionalString(record.Nonce),
		UserData:      optionalString(record.UserData),
		Authenticated: record.Authenticated,
		Line:          record.String(),
	}
	for _, pcr := range record.PCRs {
		resp.PCRs = append(resp.PCRs, PCRResponse{Index: pcr.Index, Value: pcr.Hex})
	}
	return resp
}

func optionalString(value attest.OptionalBytes) *string {
	if !value.Present() {
		return nil
	}
	encoded := value.Base64()
	return &encoded
}

// queryBytes decodes a base64 query parameter. A missing parameter is absent and an empty one is
// present with no bytes.
func queryBytes(ctx *fiber.Ctx, name string) (attest.OptionalBytes, error) {
	if !ctx.Context().QueryArgs().Has(name) {
		return attest.None(), nil
	}
	// unescaped '+' arrives as a space
	value := strings.ReplaceAll(ctx.Query(name), " ", "+")
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return attest.None(), fmt.Errorf("%s is not valid base64", name)
	}
	return attest.Some(decoded), nil
}

func statusFor(category attest.ErrorCategory) int {
	switch category {
	case attest.CategoryMalformedInput:
		return fiber.StatusBadRequest
	case attest.CategoryUntrustedInput:
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}
