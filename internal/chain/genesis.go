package chain

import (
	"fmt"

	"github.com/tidechain-net/tidechain/config"
	"github.com/tidechain-net/tidechain/pkg/block"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// CreateGenesisBlock builds and signs the genesis block from the genesis
// configuration. The block is deterministic: signing is deterministic and
// the generator key derives from the published seed, so every node
// produces the same block ID. It has a zero reference and no transactions.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	key, err := gen.GeneratorKey()
	if err != nil {
		return nil, fmt.Errorf("derive generator key: %w", err)
	}
	pub, err := types.PublicKeyFromBytes(key.PublicKey())
	if err != nil {
		return nil, fmt.Errorf("generator public key: %w", err)
	}

	blk := block.NewBlock(block.VersionNG, gen.Timestamp, types.BlockID{}, gen.BlockScore, pub, nil)
	if err := blk.Sign(key); err != nil {
		return nil, fmt.Errorf("sign genesis: %w", err)
	}
	return blk, nil
}

// BootstrapGenesis appends the genesis block to an empty chain through the
// normal append path, with a validator that accepts unconditionally —
// there is no prior state for consensus to check the first block against.
// A chain that already has blocks is left untouched.
func BootstrapGenesis(ng *NG, gen *config.Genesis) error {
	if ng.Height() > 0 {
		return nil
	}
	blk, err := CreateGenesisBlock(gen)
	if err != nil {
		return err
	}
	if _, _, err := ng.AppendBlock(blk, func() (Diff, error) { return nil, nil }); err != nil {
		return fmt.Errorf("append genesis: %w", err)
	}
	return nil
}
