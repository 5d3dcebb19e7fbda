// Package types defines core primitive types for the Tidechain node.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashSize is the length of a hash in bytes.
const HashSize = 32

// Hash represents a 256-bit hash value.
type Hash [HashSize]byte

// BlockID identifies a block. It is derived from the block's signed body
// and is the value microblocks chain through and references point at.
type BlockID Hash

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex-encoded hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Bytes returns a copy of the hash as a byte slice.
func (h Hash) Bytes() []byte {
	b := make([]byte, HashSize)
	copy(b, h[:])
	return b
}

// MarshalJSON encodes the hash as a hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(decoded) != HashSize {
		return fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(decoded))
	}
	copy(h[:], decoded)
	return nil
}

// HexToHash converts a hex string to a Hash.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != HashSize {
		return Hash{}, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// IsZero returns true if the block ID is all zeros.
func (id BlockID) IsZero() bool {
	return Hash(id).IsZero()
}

// String returns the hex-encoded block ID.
func (id BlockID) String() string {
	return Hash(id).String()
}

// Bytes returns a copy of the block ID as a byte slice.
func (id BlockID) Bytes() []byte {
	return Hash(id).Bytes()
}

// MarshalJSON encodes the block ID as a hex string.
func (id BlockID) MarshalJSON() ([]byte, error) {
	return Hash(id).MarshalJSON()
}

// UnmarshalJSON decodes a hex string into a block ID.
func (id *BlockID) UnmarshalJSON(data []byte) error {
	return (*Hash)(id).UnmarshalJSON(data)
}
