package wellknown_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/attest/attesttest"
	"github.com/rhodey/lock.host/pkg/metrics"
	"github.com/rhodey/lock.host/pkg/wellknown"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pcr0 = "ab12"

type stubGenerator struct {
	req attest.Request
	err error
}

func (s *stubGenerator) Generate(req attest.Request) (string, error) {
	s.req = req
	if s.err != nil {
		return "", s.err
	}
	return "ZG9j", nil
}

func (s *stubGenerator) Mode() attest.Mode { return attest.ModeDevelopment }

func newApp(t *testing.T, generator wellknown.Generator, verifier wellknown.Verifier) *fiber.App {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	wellknown.RegisterRoutes(app, wellknown.NewController(generator, verifier, m))
	return app
}

func devGenerator(t *testing.T) *attest.Generator {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, attest.DefaultMeasurementPath, []byte(pcr0), 0o644))
	gen, err := attest.NewGenerator(attest.ModeDevelopment, attest.WithMeasurement(fsys, attest.DefaultMeasurementPath))
	require.NoError(t, err)
	return gen
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out T
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out
}

func TestGetAttestation(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{}
	app := newApp(t, gen, nil)

	query := url.Values{}
	query.Set("publicKey", base64.StdEncoding.EncodeToString([]byte{0xfb, 0xff}))
	query.Set("nonce", "")
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/attestation?"+query.Encode(), nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "ZG9j", decodeJSON[wellknown.AttestationResponse](t, resp).AttestDoc)

	assert.Equal(t, []byte{0xfb, 0xff}, gen.req.PublicKey.Bytes())
	assert.True(t, gen.req.Nonce.Present())
	assert.Empty(t, gen.req.Nonce.Bytes())
	assert.False(t, gen.req.UserData.Present())
}

func TestGetAttestationUnescapedPlus(t *testing.T) {
	t.Parallel()
	gen := &stubGenerator{}
	app := newApp(t, gen, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/attestation?userData=+/8=", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, []byte{0xfb, 0xff}, gen.req.UserData.Bytes())
}

func TestGetAttestationRejects(t *testing.T) {
	t.Parallel()
	app := newApp(t, &stubGenerator{}, nil)
	longNonce := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("n", 65)))

	for name, target := range map[string]string{
		"bad base64": "/.well-known/attestation?nonce=***",
		"long nonce": "/.well-known/attestation?nonce=" + url.QueryEscape(longNonce),
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
			require.NoError(t, err)
			require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetAttestationGeneratorFailure(t *testing.T) {
	t.Parallel()
	app := newApp(t, &stubGenerator{err: errors.New("nsm closed")}, nil)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/attestation", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestGenerateThenVerifyOverHTTP(t *testing.T) {
	t.Parallel()
	verifier, err := attest.NewVerifier(attest.NewRootStore(), attest.ModeDevelopment)
	require.NoError(t, err)
	app := newApp(t, devGenerator(t), verifier)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/.well-known/attestation?publicKey=QQ%3D%3D&userData=Zm9v", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	doc := decodeJSON[wellknown.AttestationResponse](t, resp).AttestDoc

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(doc)))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeJSON[wellknown.VerifyResponse](t, resp)

	require.NotNil(t, out.PublicKey)
	assert.Equal(t, "QQ==", *out.PublicKey)
	assert.Nil(t, out.Nonce)
	require.NotNil(t, out.UserData)
	assert.Equal(t, "Zm9v", *out.UserData)
	assert.False(t, out.Authenticated)
	require.Len(t, out.PCRs, 3)
	assert.Equal(t, pcr0, out.PCRs[0].Value)
	zeros := strings.Repeat("0", 100)
	assert.Equal(t, "QQ==,,Zm9v,"+pcr0+","+zeros+","+zeros, out.Line)
}

func TestPostVerifyStatusCodes(t *testing.T) {
	t.Parallel()
	signing := attesttest.NewPKI(t)
	trusted := attesttest.NewPKI(t)
	untrusted := base64.StdEncoding.EncodeToString(signing.Sign(t, signing.Document(attest.None(), attest.None(), attest.None())))

	verifier, err := attest.NewVerifier(attest.NewRootStore(trusted.Root), attest.ModeProduction)
	require.NoError(t, err)
	noRoots, err := attest.NewVerifier(attest.NewRootStore(), attest.ModeProduction)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier wellknown.Verifier
		body     string
		want     int
	}{
		{"empty body", verifier, "", fiber.StatusBadRequest},
		{"not base64", verifier, "!!!", fiber.StatusBadRequest},
		{"untrusted chain", verifier, untrusted, fiber.StatusUnprocessableEntity},
		{"development in production", verifier, base64.StdEncoding.EncodeToString([]byte("testdoc,,,,aa,00,00")), fiber.StatusUnprocessableEntity},
		{"no roots", noRoots, untrusted, fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			app := newApp(t, nil, tt.verifier)
			resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(tt.body)))
			require.NoError(t, err)
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestPostVerifyProduction(t *testing.T) {
	t.Parallel()
	pki := attesttest.NewPKI(t)
	verifier, err := attest.NewVerifier(attest.NewRootStore(pki.Root), attest.ModeProduction)
	require.NoError(t, err)
	doc := base64.StdEncoding.EncodeToString(pki.Sign(t, pki.Document(attest.Some([]byte("pk")), attest.Some([]byte("n")), attest.None())))

	resp, err := newApp(t, nil, verifier).Test(httptest.NewRequest(http.MethodPost, "/verify", strings.NewReader(doc)))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	out := decodeJSON[wellknown.VerifyResponse](t, resp)
	require.True(t, out.Authenticated)
	require.Equal(t, "cGs=", *out.PublicKey)
	require.Equal(t, "bg==", *out.Nonce)
	require.Nil(t, out.UserData)
}
