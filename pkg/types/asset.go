package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AssetIDSize is the length of an asset ID in bytes.
const AssetIDSize = 32

// AssetID identifies an issued asset.
type AssetID [AssetIDSize]byte

// NativeAssetName is the display name of the native asset.
const NativeAssetName = "TIDE"

// OptionalAsset is either an issued asset or the native asset.
// The zero value is the native asset.
type OptionalAsset struct {
	Present bool
	ID      AssetID
}

// NativeAsset returns the native-asset value.
func NativeAsset() OptionalAsset {
	return OptionalAsset{}
}

// NewOptionalAsset returns an issued-asset value.
func NewOptionalAsset(id AssetID) OptionalAsset {
	return OptionalAsset{Present: true, ID: id}
}

// IsNative returns true for the native asset.
func (a OptionalAsset) IsNative() bool {
	return !a.Present
}

// String returns the hex-encoded asset ID, or the native asset name.
func (a OptionalAsset) String() string {
	if !a.Present {
		return NativeAssetName
	}
	return hex.EncodeToString(a.ID[:])
}

// assetKeySize is the length of an OptionalAsset binary key encoding.
const assetKeySize = 1 + AssetIDSize

// AppendKey appends the asset's binary key encoding to b:
// one presence byte followed by the 32 ID bytes (zero for native).
func (a OptionalAsset) AppendKey(b []byte) []byte {
	if a.Present {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return append(b, a.ID[:]...)
}

// AssetFromKey decodes an OptionalAsset from its binary key encoding.
func AssetFromKey(b []byte) (OptionalAsset, error) {
	if len(b) < assetKeySize {
		return OptionalAsset{}, fmt.Errorf("asset key must be %d bytes, got %d", assetKeySize, len(b))
	}
	var a OptionalAsset
	a.Present = b[0] != 0
	copy(a.ID[:], b[1:assetKeySize])
	return a, nil
}

// MarshalJSON encodes the asset as a hex string, or null for native.
func (a OptionalAsset) MarshalJSON() ([]byte, error) {
	if !a.Present {
		return []byte("null"), nil
	}
	return json.Marshal(hex.EncodeToString(a.ID[:]))
}

// UnmarshalJSON decodes a hex string or null into an OptionalAsset.
func (a *OptionalAsset) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = OptionalAsset{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid asset hex: %w", err)
	}
	if len(decoded) != AssetIDSize {
		return fmt.Errorf("asset ID must be %d bytes, got %d", AssetIDSize, len(decoded))
	}
	a.Present = true
	copy(a.ID[:], decoded)
	return nil
}
