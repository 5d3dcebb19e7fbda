package block

import (
	"errors"
	"fmt"

	"github.com/tidechain-net/tidechain/pkg/crypto"
)

// Structural validation errors.
var (
	ErrNoSignature    = errors.New("missing signature")
	ErrBadSignature   = errors.New("invalid signature")
	ErrBadVersion     = errors.New("unknown block version")
	ErrZeroScore      = errors.New("block score must be positive")
	ErrNoGenerator    = errors.New("missing generator key")
	ErrBadTotalRefSig = errors.New("total signature missing or malformed")
)

// Validate checks the block's structural rules: version, score, generator,
// and signature. Consensus rules are the caller's concern.
func (b *Block) Validate() error {
	if b.Version != VersionLegacy && b.Version != VersionNG {
		return fmt.Errorf("%w: %d", ErrBadVersion, b.Version)
	}
	if b.BlockScore == 0 {
		return ErrZeroScore
	}
	if b.SignerData.Generator.IsZero() {
		return ErrNoGenerator
	}
	if len(b.SignerData.Signature) != crypto.SignatureSize {
		return fmt.Errorf("%w: got %d bytes", ErrNoSignature, len(b.SignerData.Signature))
	}
	if !b.VerifySignature() {
		return ErrBadSignature
	}
	return nil
}

// Validate checks the microblock's structural rules: generator, chaining
// IDs, and both signatures' presence. Signature verification against the
// accumulated liquid body happens where the liquid state is known.
func (m *MicroBlock) Validate() error {
	if m.Generator.IsZero() {
		return ErrNoGenerator
	}
	if m.PrevResBlockSig.IsZero() || m.TotalResBlockSig.IsZero() {
		return fmt.Errorf("%w: zero chaining ID", ErrBadTotalRefSig)
	}
	if len(m.TotalSignature) != crypto.SignatureSize {
		return fmt.Errorf("%w: total signature %d bytes", ErrBadTotalRefSig, len(m.TotalSignature))
	}
	if len(m.Signature) != crypto.SignatureSize {
		return fmt.Errorf("%w: got %d bytes", ErrNoSignature, len(m.Signature))
	}
	if !m.VerifySignature() {
		return ErrBadSignature
	}
	return nil
}
