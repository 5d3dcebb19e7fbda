package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// PublicKeySize is the length of a compressed secp256k1 public key.
const PublicKeySize = 33

// PublicKey is a compressed secp256k1 public key identifying an account
// or a block generator.
type PublicKey [PublicKeySize]byte

// PublicKeyFromBytes converts a byte slice to a PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	if len(b) != PublicKeySize {
		return PublicKey{}, fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(b))
	}
	var pk PublicKey
	copy(pk[:], b)
	return pk, nil
}

// IsZero returns true if the public key is all zeros.
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// String returns the hex-encoded public key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// Bytes returns a copy of the public key as a byte slice.
func (pk PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, pk[:])
	return b
}

// MarshalJSON encodes the public key as a hex string.
func (pk PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.String())
}

// UnmarshalJSON decodes a hex string into a public key.
func (pk *PublicKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(decoded) != PublicKeySize {
		return fmt.Errorf("public key must be %d bytes, got %d", PublicKeySize, len(decoded))
	}
	copy(pk[:], decoded)
	return nil
}
