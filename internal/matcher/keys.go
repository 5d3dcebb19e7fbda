package matcher

import (
	"encoding/binary"
	"fmt"

	"github.com/tidechain-net/tidechain/pkg/types"
)

// Key prefixes for the matcher tables. Timestamps are big-endian so
// lexicographic key order equals time order.
var (
	prefixOrderInfo = []byte("oi/") // oi/<id(32)> -> OrderInfo JSON
	prefixOrderMeta = []byte("om/") // om/<id(32)> -> Order JSON
	prefixReserved  = []byte("rb/") // rb/<sender(33)><asset(33)> -> uint64(8)
	prefixActive    = []byte("oa/") // oa/<sender(33)><amount(33)><price(33)><side(1)><ts(8)><id(32)> -> 1
	prefixAll       = []byte("ol/") // ol/<sender(33)><ts(8)><id(32)> -> rank(1)
)

// Index ranks stored in the all-orders table: active orders sort before
// terminal ones.
const (
	rankActive   byte = 0
	rankTerminal byte = 1
)

func orderInfoKey(id types.Hash) []byte {
	key := make([]byte, 0, len(prefixOrderInfo)+types.HashSize)
	key = append(key, prefixOrderInfo...)
	return append(key, id[:]...)
}

func orderMetaKey(id types.Hash) []byte {
	key := make([]byte, 0, len(prefixOrderMeta)+types.HashSize)
	key = append(key, prefixOrderMeta...)
	return append(key, id[:]...)
}

func reservedKey(sender types.PublicKey, asset types.OptionalAsset) []byte {
	key := make([]byte, 0, len(prefixReserved)+types.PublicKeySize+1+types.AssetIDSize)
	key = append(key, prefixReserved...)
	key = append(key, sender[:]...)
	return asset.AppendKey(key)
}

func reservedScanPrefix(sender types.PublicKey) []byte {
	key := make([]byte, 0, len(prefixReserved)+types.PublicKeySize)
	key = append(key, prefixReserved...)
	return append(key, sender[:]...)
}

func activeKey(o *Order) []byte {
	key := make([]byte, 0, len(prefixActive)+types.PublicKeySize+2*(1+types.AssetIDSize)+1+8+types.HashSize)
	key = append(key, prefixActive...)
	key = append(key, o.SenderPK[:]...)
	key = o.Pair.AmountAsset.AppendKey(key)
	key = o.Pair.PriceAsset.AppendKey(key)
	key = append(key, byte(o.Side))
	key = binary.BigEndian.AppendUint64(key, uint64(o.Timestamp))
	return append(key, o.ID[:]...)
}

func activeScanPrefix(sender types.PublicKey) []byte {
	key := make([]byte, 0, len(prefixActive)+types.PublicKeySize)
	key = append(key, prefixActive...)
	return append(key, sender[:]...)
}

func activePairScanPrefix(sender types.PublicKey, pair AssetPair) []byte {
	key := make([]byte, 0, len(prefixActive)+types.PublicKeySize+2*(1+types.AssetIDSize))
	key = append(key, prefixActive...)
	key = append(key, sender[:]...)
	key = pair.AmountAsset.AppendKey(key)
	return pair.PriceAsset.AppendKey(key)
}

func allKey(sender types.PublicKey, timestamp int64, id types.Hash) []byte {
	key := make([]byte, 0, len(prefixAll)+types.PublicKeySize+8+types.HashSize)
	key = append(key, prefixAll...)
	key = append(key, sender[:]...)
	key = binary.BigEndian.AppendUint64(key, uint64(timestamp))
	return append(key, id[:]...)
}

func allScanPrefix(sender types.PublicKey) []byte {
	key := make([]byte, 0, len(prefixAll)+types.PublicKeySize)
	key = append(key, prefixAll...)
	return append(key, sender[:]...)
}

// parseTailTsID extracts the trailing timestamp and order ID from an index
// key, given the length of everything before them.
func parseTailTsID(key []byte, headLen int) (int64, types.Hash, error) {
	if len(key) != headLen+8+types.HashSize {
		return 0, types.Hash{}, fmt.Errorf("malformed index key: %d bytes", len(key))
	}
	ts := int64(binary.BigEndian.Uint64(key[headLen : headLen+8]))
	var id types.Hash
	copy(id[:], key[headLen+8:])
	return ts, id, nil
}
