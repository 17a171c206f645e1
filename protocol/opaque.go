package protocol

import (
	"encoding/hex"
	"fmt"
)

// OpaqueField names a hex encoded value the protocol carries without
// interpreting it.
type OpaqueField uint8

const (
	EpochChallengeField OpaqueField = iota + 1
	AddressField
	ProverSolutionField
)

func (f OpaqueField) String() string {
	switch f {
	case EpochChallengeField:
		return "EpochChallenge"
	case AddressField:
		return "Address"
	case ProverSolutionField:
		return "ProverSolution"
	default:
		return "Opaque"
	}
}

// DecodeOpaque returns the bytes behind a hex encoded opaque field.
func DecodeOpaque(field OpaqueField, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode %s failed: %w", field, err)
	}
	return b, nil
}

// EncodeOpaque is the inverse of DecodeOpaque.
func EncodeOpaque(b []byte) string {
	return hex.EncodeToString(b)
}
