package attest_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/rhodey/lock.host/pkg/attest/attesttest"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func measurementFs(t *testing.T, content string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, attest.DefaultMeasurementPath, []byte(content), 0o644))
	return fsys
}

type recordingModule struct {
	publicKey, nonce, userData attest.OptionalBytes
	document                   []byte
	err                        error
}

func (m *recordingModule) Attest(publicKey, nonce, userData attest.OptionalBytes) ([]byte, error) {
	m.publicKey, m.nonce, m.userData = publicKey, nonce, userData
	return m.document, m.err
}

func TestNewGenerator(t *testing.T) {
	t.Parallel()

	_, err := attest.NewGenerator(attest.Mode(0))
	require.ErrorIs(t, err, attest.ErrInvalidMode)

	_, err = attest.NewGenerator(attest.ModeProduction)
	require.ErrorIs(t, err, attest.ErrInvalidMode, "production without a module must not be constructible")

	gen, err := attest.NewGenerator(attest.ModeDevelopment)
	require.NoError(t, err)
	require.Equal(t, attest.ModeDevelopment, gen.Mode())
}

func TestGenerateDevelopment(t *testing.T) {
	t.Parallel()
	gen, err := attest.NewGenerator(attest.ModeDevelopment,
		attest.WithMeasurement(measurementFs(t, strings.ToUpper(measuredPCR0)+"\n"), attest.DefaultMeasurementPath))
	require.NoError(t, err)

	doc, err := gen.Generate(attest.Request{
		PublicKey: attest.Some([]byte{0x41}),
		Nonce:     attest.None(),
		UserData:  attest.Some([]byte("foo")),
	})
	require.NoError(t, err)

	plain, err := base64.StdEncoding.DecodeString(doc)
	require.NoError(t, err)
	zeros := strings.Repeat("0", 100)
	require.Equal(t, "testdoc,QQ==,,Zm9v,"+measuredPCR0+","+zeros+","+zeros, string(plain))
}

func TestGenerateDevelopmentMeasurementUnavailable(t *testing.T) {
	t.Parallel()

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		gen, err := attest.NewGenerator(attest.ModeDevelopment, attest.WithMeasurement(afero.NewMemMapFs(), "/hash.txt"))
		require.NoError(t, err)
		_, err = gen.Generate(attest.Request{})
		require.ErrorIs(t, err, attest.ErrMeasurementUnavailable)
	})

	t.Run("empty file", func(t *testing.T) {
		t.Parallel()
		gen, err := attest.NewGenerator(attest.ModeDevelopment, attest.WithMeasurement(measurementFs(t, " \n"), attest.DefaultMeasurementPath))
		require.NoError(t, err)
		_, err = gen.Generate(attest.Request{})
		require.ErrorIs(t, err, attest.ErrMeasurementUnavailable)
	})
}

func TestGenerateProduction(t *testing.T) {
	t.Parallel()

	t.Run("forwards fields verbatim", func(t *testing.T) {
		t.Parallel()
		module := &recordingModule{document: []byte{0x84, 0x40, 0xa0, 0x40, 0x40}}
		gen, err := attest.NewGenerator(attest.ModeProduction, attest.WithModule(module))
		require.NoError(t, err)

		doc, err := gen.Generate(attest.Request{
			PublicKey: attest.Some([]byte("pk")),
			Nonce:     attest.Some([]byte{}),
			UserData:  attest.None(),
		})
		require.NoError(t, err)
		require.Equal(t, base64.StdEncoding.EncodeToString(module.document), doc)

		assert.Equal(t, []byte("pk"), module.publicKey.Bytes())
		assert.True(t, module.nonce.Present())
		assert.Empty(t, module.nonce.Bytes())
		assert.False(t, module.userData.Present())
	})

	t.Run("module failure", func(t *testing.T) {
		t.Parallel()
		gen, err := attest.NewGenerator(attest.ModeProduction, attest.WithModule(&recordingModule{err: errors.New("device busy")}))
		require.NoError(t, err)
		_, err = gen.Generate(attest.Request{})
		require.ErrorIs(t, err, attest.ErrGenerationFailed)
		require.ErrorContains(t, err, "device busy")
	})

	t.Run("empty document", func(t *testing.T) {
		t.Parallel()
		gen, err := attest.NewGenerator(attest.ModeProduction, attest.WithModule(&recordingModule{}))
		require.NoError(t, err)
		_, err = gen.Generate(attest.Request{})
		require.ErrorIs(t, err, attest.ErrGenerationFailed)
	})

	t.Run("signed by test module", func(t *testing.T) {
		t.Parallel()
		module := &attesttest.Module{T: t, PKI: attesttest.NewPKI(t)}
		gen, err := attest.NewGenerator(attest.ModeProduction, attest.WithModule(module))
		require.NoError(t, err)
		doc, err := gen.Generate(attest.Request{Nonce: attest.Some([]byte("n"))})
		require.NoError(t, err)

		decoded, err := attest.DecodeBase64(doc)
		require.NoError(t, err)
		require.Equal(t, []byte("n"), decoded.Document.Nonce.Bytes())
	})
}

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := map[string]attest.Mode{
		"":            attest.ModeDevelopment,
		"0":           attest.ModeDevelopment,
		"false":       attest.ModeDevelopment,
		"dev":         attest.ModeDevelopment,
		"1":           attest.ModeProduction,
		"TRUE":        attest.ModeProduction,
		" true ":      attest.ModeProduction,
		"production":  attest.ModeProduction,
	}
	for input, want := range tests {
		got, err := attest.ParseMode(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	_, err := attest.ParseMode("yes")
	require.ErrorIs(t, err, attest.ErrInvalidMode)
}
