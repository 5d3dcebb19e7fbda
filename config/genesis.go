package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidechain-net/tidechain/pkg/crypto"
	"github.com/tidechain-net/tidechain/pkg/types"
)

// =============================================================================
// Genesis (immutable, must match across all nodes)
// =============================================================================

// Genesis holds the genesis block configuration.
// This is immutable after chain launch - changes require a hard fork.
type Genesis struct {
	// Chain identity
	ChainID   string `json:"chain_id"`
	ChainName string `json:"chain_name"`
	Symbol    string `json:"symbol,omitempty"` // Native coin symbol (e.g., "TIDE")

	// Genesis block
	Timestamp  int64  `json:"timestamp"`
	BlockScore uint64 `json:"block_score"`

	// GeneratorSeed is the 32-byte hex seed of the genesis generator key.
	// It is public: the key exists only so every node derives the same
	// signed genesis block, and holds no funds or authority afterwards.
	GeneratorSeed string `json:"generator_seed"`
}

// MainnetGenesis returns the mainnet genesis configuration.
func MainnetGenesis() *Genesis {
	return &Genesis{
		ChainID:       "tidechain-1",
		ChainName:     "Tidechain",
		Symbol:        "TIDE",
		Timestamp:     1735689600, // 2025-01-01 00:00:00 UTC
		BlockScore:    1,
		GeneratorSeed: "74696465636861696e2d67656e657369732d67656e657261746f722d73656564",
	}
}

// TestnetGenesis returns the testnet genesis configuration.
func TestnetGenesis() *Genesis {
	g := MainnetGenesis()
	g.ChainID = "tidechain-test-1"
	g.ChainName = "Tidechain Testnet"
	g.Timestamp = 1735776000 // 2025-01-02 00:00:00 UTC
	return g
}

// GenesisFor returns the genesis config for the given network.
func GenesisFor(network NetworkType) *Genesis {
	switch network {
	case Testnet:
		return TestnetGenesis()
	default:
		return MainnetGenesis()
	}
}

// =============================================================================
// Genesis file I/O
// =============================================================================

// LoadGenesis loads genesis configuration from a file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}

	var g Genesis
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parsing genesis file: %w", err)
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis: %w", err)
	}

	return &g, nil
}

// Save writes the genesis configuration to a file.
func (g *Genesis) Save(path string) error {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding genesis: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}

	return nil
}

// Validate checks that the genesis configuration is valid.
func (g *Genesis) Validate() error {
	if g.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if g.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive")
	}
	if g.BlockScore == 0 {
		return fmt.Errorf("block_score must be positive")
	}
	seed, err := hex.DecodeString(g.GeneratorSeed)
	if err != nil {
		return fmt.Errorf("generator_seed must be hex: %w", err)
	}
	if len(seed) != 32 {
		return fmt.Errorf("generator_seed must be 32 bytes, got %d", len(seed))
	}
	return nil
}

// GeneratorKey derives the genesis generator key from the seed.
func (g *Genesis) GeneratorKey() (*crypto.PrivateKey, error) {
	seed, err := hex.DecodeString(g.GeneratorSeed)
	if err != nil {
		return nil, fmt.Errorf("generator_seed must be hex: %w", err)
	}
	return crypto.PrivateKeyFromBytes(seed)
}

// Hash returns a BLAKE3 hash of the genesis configuration.
// Used to identify the chain and detect genesis mismatches.
func (g *Genesis) Hash() (types.Hash, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return types.Hash{}, err
	}
	return crypto.Hash(data), nil
}
