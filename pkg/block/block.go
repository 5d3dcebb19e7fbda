// Package block defines block and microblock types and validation.
package block

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/tidechain-net/tidechain/pkg/crypto"
	"github.com/tidechain-net/tidechain/pkg/tx"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// Block versions. VersionNG and later may carry microblock extensions.
const (
	VersionLegacy uint32 = 2
	VersionNG     uint32 = 3
)

// SignerData carries the generator and its signature over the block body.
type SignerData struct {
	Generator types.PublicKey `json:"generator"`
	Signature []byte          `json:"signature"`
}

// Block represents a block in the chain. Reference points to the parent
// block's unique ID. BlockScore is this block's own consensus score
// contribution (strictly positive).
type Block struct {
	Version      uint32            `json:"version"`
	Timestamp    int64             `json:"timestamp"`
	Reference    types.BlockID     `json:"reference"`
	BlockScore   uint64            `json:"block_score"`
	SignerData   SignerData        `json:"signer_data"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates an unsigned block.
func NewBlock(version uint32, timestamp int64, reference types.BlockID, score uint64, generator types.PublicKey, txs []*tx.Transaction) *Block {
	return &Block{
		Version:      version,
		Timestamp:    timestamp,
		Reference:    reference,
		BlockScore:   score,
		SignerData:   SignerData{Generator: generator},
		Transactions: txs,
	}
}

// TxRoot returns the merkle root of the block's transaction IDs.
func (b *Block) TxRoot() types.Hash {
	hashes := make([]types.Hash, len(b.Transactions))
	for i, t := range b.Transactions {
		hashes[i] = t.Hash()
	}
	return ComputeMerkleRoot(hashes)
}

// SigningBytes returns the canonical bytes the generator signs.
// Format: version(4) | timestamp(8) | reference(32) | score(8) | generator(33) | txroot(32)
func (b *Block) SigningBytes() []byte {
	buf := make([]byte, 0, 117)
	buf = binary.LittleEndian.AppendUint32(buf, b.Version)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.Timestamp))
	buf = append(buf, b.Reference[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, b.BlockScore)
	buf = append(buf, b.SignerData.Generator[:]...)
	root := b.TxRoot()
	buf = append(buf, root[:]...)
	return buf
}

// UniqueID derives the block's identity from its content and signature.
func (b *Block) UniqueID() types.BlockID {
	body := b.SigningBytes()
	buf := make([]byte, 0, len(body)+len(b.SignerData.Signature))
	buf = append(buf, body...)
	buf = append(buf, b.SignerData.Signature...)
	return types.BlockID(crypto.Hash(buf))
}

// Sign signs the block body and fills in the signature.
func (b *Block) Sign(signer crypto.Signer) error {
	h := crypto.Hash(b.SigningBytes())
	sig, err := signer.Sign(h[:])
	if err != nil {
		return err
	}
	b.SignerData.Signature = sig
	return nil
}

// VerifySignature checks the block signature against the generator key.
func (b *Block) VerifySignature() bool {
	h := crypto.Hash(b.SigningBytes())
	return crypto.VerifySignature(h[:], b.SignerData.Signature, b.SignerData.Generator[:])
}

// signerDataJSON is the JSON shape of SignerData with a hex signature.
type signerDataJSON struct {
	Generator types.PublicKey `json:"generator"`
	Signature string          `json:"signature,omitempty"`
}

// MarshalJSON encodes signer data with a hex-encoded signature.
func (s SignerData) MarshalJSON() ([]byte, error) {
	j := signerDataJSON{Generator: s.Generator}
	if s.Signature != nil {
		j.Signature = hex.EncodeToString(s.Signature)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes signer data with a hex-encoded signature.
func (s *SignerData) UnmarshalJSON(data []byte) error {
	var j signerDataJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	s.Generator = j.Generator
	if j.Signature != "" {
		b, err := hex.DecodeString(j.Signature)
		if err != nil {
			return err
		}
		s.Signature = b
	} else {
		s.Signature = nil
	}
	return nil
}
