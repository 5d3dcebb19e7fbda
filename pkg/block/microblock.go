package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/tidechain-net/tidechain/pkg/crypto"
	"github.com/tidechain-net/tidechain/pkg/tx"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// MicroBlock extends the liquid block with additional transactions.
//
// PrevResBlockSig is the ID of the state being extended: the base block's
// unique ID for the first microblock, or the previous microblock's
// TotalResBlockSig after that. TotalResBlockSig is the ID the liquid block
// has once this microblock is applied, and TotalSignature is the generator
// signature a block forged at this point will carry — a forged block is the
// base with TotalSignature substituted in and the accumulated transactions
// appended, so its UniqueID equals TotalResBlockSig by construction.
type MicroBlock struct {
	Version          uint32            `json:"version"`
	Generator        types.PublicKey   `json:"generator"`
	PrevResBlockSig  types.BlockID     `json:"prev_res_block_sig"`
	TotalResBlockSig types.BlockID     `json:"total_res_block_sig"`
	TotalSignature   []byte            `json:"total_signature"`
	Transactions     []*tx.Transaction `json:"transactions"`
	Signature        []byte            `json:"signature"`
}

// SigningBytes returns the canonical bytes the generator signs for the
// microblock itself.
// Format: version(4) | generator(33) | prev(32) | total(32) | totalsig | txroot(32)
func (m *MicroBlock) SigningBytes() []byte {
	buf := make([]byte, 0, 197)
	buf = binary.LittleEndian.AppendUint32(buf, m.Version)
	buf = append(buf, m.Generator[:]...)
	buf = append(buf, m.PrevResBlockSig[:]...)
	buf = append(buf, m.TotalResBlockSig[:]...)
	buf = append(buf, m.TotalSignature...)
	hashes := make([]types.Hash, len(m.Transactions))
	for i, t := range m.Transactions {
		hashes[i] = t.Hash()
	}
	root := ComputeMerkleRoot(hashes)
	buf = append(buf, root[:]...)
	return buf
}

// Sign signs the microblock and fills in its signature.
func (m *MicroBlock) Sign(signer crypto.Signer) error {
	h := crypto.Hash(m.SigningBytes())
	sig, err := signer.Sign(h[:])
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// VerifySignature checks the microblock's own signature against the
// generator key.
func (m *MicroBlock) VerifySignature() bool {
	h := crypto.Hash(m.SigningBytes())
	return crypto.VerifySignature(h[:], m.Signature, m.Generator[:])
}

// microBlockJSON is the JSON shape with hex-encoded signatures.
type microBlockJSON struct {
	Version          uint32            `json:"version"`
	Generator        types.PublicKey   `json:"generator"`
	PrevResBlockSig  types.BlockID     `json:"prev_res_block_sig"`
	TotalResBlockSig types.BlockID     `json:"total_res_block_sig"`
	TotalSignature   string            `json:"total_signature,omitempty"`
	Transactions     []*tx.Transaction `json:"transactions"`
	Signature        string            `json:"signature,omitempty"`
}

// MarshalJSON encodes the microblock with hex-encoded signatures.
func (m *MicroBlock) MarshalJSON() ([]byte, error) {
	j := microBlockJSON{
		Version:          m.Version,
		Generator:        m.Generator,
		PrevResBlockSig:  m.PrevResBlockSig,
		TotalResBlockSig: m.TotalResBlockSig,
		Transactions:     m.Transactions,
	}
	if m.TotalSignature != nil {
		j.TotalSignature = hex.EncodeToString(m.TotalSignature)
	}
	if m.Signature != nil {
		j.Signature = hex.EncodeToString(m.Signature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes a microblock with hex-encoded signatures.
func (m *MicroBlock) UnmarshalJSON(data []byte) error {
	var j microBlockJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	m.Version = j.Version
	m.Generator = j.Generator
	m.PrevResBlockSig = j.PrevResBlockSig
	m.TotalResBlockSig = j.TotalResBlockSig
	m.Transactions = j.Transactions
	m.TotalSignature = nil
	m.Signature = nil
	if j.TotalSignature != "" {
		b, err := hex.DecodeString(j.TotalSignature)
		if err != nil {
			return err
		}
		m.TotalSignature = b
	}
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return err
		}
		m.Signature = b
	}
	return nil
}
