// Package tx defines the opaque transaction value carried by blocks.
//
// Transaction parsing, signature checks, and address derivation live in an
// external collaborator. The chain core and the matcher only move
// transactions around by value and identity.
package tx

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tidechain-net/tidechain/pkg/crypto"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// Transaction is an opaque transaction: an identity plus the raw bytes the
// parser collaborator produced it from.
type Transaction struct {
	ID      types.Hash `json:"id"`
	Payload []byte     `json:"payload"`
}

// New builds a transaction from raw bytes, deriving its ID.
func New(payload []byte) *Transaction {
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Transaction{ID: crypto.Hash(p), Payload: p}
}

// Hash returns the transaction's identity.
func (t *Transaction) Hash() types.Hash {
	return t.ID
}

// txJSON is the JSON representation with a hex-encoded payload.
type txJSON struct {
	ID      types.Hash `json:"id"`
	Payload string     `json:"payload,omitempty"`
}

// MarshalJSON encodes the transaction with a hex-encoded payload.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(txJSON{ID: t.ID, Payload: hex.EncodeToString(t.Payload)})
}

// UnmarshalJSON decodes a transaction with a hex-encoded payload.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var j txJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t.ID = j.ID
	if j.Payload != "" {
		b, err := hex.DecodeString(j.Payload)
		if err != nil {
			return fmt.Errorf("invalid payload hex: %w", err)
		}
		t.Payload = b
	} else {
		t.Payload = nil
	}
	return nil
}
