package attest

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseLine parses a verifier output line back into a NormalizedRecord. A single trailing
// delimiter is tolerated. The returned record is never marked authenticated since a line
// carries no proof.
func ParseLine(line string) (*NormalizedRecord, error) {
	fields := strings.Split(strings.TrimSpace(line), devDelimiter)
	if len(fields) == 7 && fields[6] == "" {
		fields = fields[:6]
	}
	if len(fields) != 6 {
		return nil, fmt.Errorf("record line has %d fields, want 6", len(fields))
	}

	var record NormalizedRecord
	targets := []*OptionalBytes{&record.PublicKey, &record.Nonce, &record.UserData}
	for i, target := range targets {
		value, err := decodeDevField(fields[i])
		if err != nil {
			return nil, fmt.Errorf("record field %d: %w", i, err)
		}
		*target = value
	}
	for i, index := range pcrIndices {
		value := strings.ToLower(fields[3+i])
		if value == "" {
			record.PCRs[i] = PCR{Index: index}
			continue
		}
		if _, err := hex.DecodeString(value); err != nil {
			return nil, fmt.Errorf("record pcr%d: %w", index, err)
		}
		record.PCRs[i] = PCR{Index: index, Hex: value, Present: true}
	}
	return &record, nil
}
