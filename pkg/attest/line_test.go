package attest_test

import (
	"strings"
	"testing"

	"github.com/rhodey/lock.host/pkg/attest"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	t.Parallel()
	zeros := strings.Repeat("0", 100)
	line := "QQ==,,Zm9v," + strings.ToUpper(measuredPCR0) + "," + zeros + "," + zeros

	record, err := attest.ParseLine(line + "\n")
	require.NoError(t, err)
	require.Equal(t, []byte{0x41}, record.PublicKey.Bytes())
	require.False(t, record.Nonce.Present())
	require.Equal(t, []byte("foo"), record.UserData.Bytes())
	require.Equal(t, measuredPCR0, record.PCRs[0].Hex)
	require.False(t, record.Authenticated)
	require.Equal(t, strings.ToLower(line), strings.ToLower(record.String()))

	withTrailing, err := attest.ParseLine(line + ",")
	require.NoError(t, err)
	require.Equal(t, record, withTrailing)
}

func TestParseLineRoundTripsVerifierOutput(t *testing.T) {
	t.Parallel()
	record := &attest.NormalizedRecord{
		PublicKey: attest.Some([]byte("pk")),
		Nonce:     attest.None(),
		UserData:  attest.None(),
		PCRs: [3]attest.PCR{
			{Index: 0, Hex: "aa", Present: true},
			{Index: 1},
			{Index: 2, Hex: "bb", Present: true},
		},
	}
	parsed, err := attest.ParseLine(record.String())
	require.NoError(t, err)
	require.Equal(t, record, parsed)
}

func TestParseLineRejects(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"too few fields":  "QQ==,,Zm9v,aa,bb",
		"too many fields": "QQ==,,Zm9v,aa,bb,cc,dd",
		"bad base64":      "Q,,Zm9v,aa,bb,cc",
		"bad hex":         "QQ==,,Zm9v,zz,bb,cc",
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := attest.ParseLine(line)
			require.Error(t, err)
		})
	}
}
