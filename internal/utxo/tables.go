// tables.go - Asset lookup table and program registry.
//
// Both are explicit, versioned, append-only objects shared by reference.
// UTXO bytes refer to assets by their table index, so a table may only grow.

package utxo

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/btcutil/base58"

	"zkutxo/internal/hashing"
)

// Pubkey is a 32-byte account, mint or program address.
type Pubkey [32]byte

// NativeAsset is the chain's native asset. It always sits at index 0 of an
// AssetLookupTable.
var NativeAsset Pubkey

func (p Pubkey) String() string { return base58.Encode(p[:]) }

// IsZero reports whether p is the zero address.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Circuit returns the truncated field-element form of p used inside hashes.
func (p Pubkey) Circuit() *big.Int { return hashing.HashAndTruncateToCircuit(p[:]) }

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	raw := base58.Decode(s)
	if len(raw) != 32 {
		return Pubkey{}, fmt.Errorf("pubkey %q: decoded length %d, want 32", s, len(raw))
	}
	var p Pubkey
	copy(p[:], raw)
	return p, nil
}

// AssetLookupTable maps assets to compact indices.
type AssetLookupTable struct {
	mu      sync.RWMutex
	assets  []Pubkey
	index   map[Pubkey]uint64
	version uint64
}

// NewAssetLookupTable returns a table holding the native asset followed by
// assets, in order, skipping duplicates.
func NewAssetLookupTable(assets ...Pubkey) *AssetLookupTable {
	t := &AssetLookupTable{
		assets: []Pubkey{NativeAsset},
		index:  map[Pubkey]uint64{NativeAsset: 0},
	}
	for _, a := range assets {
		t.Append(a)
	}
	t.version = 0
	return t
}

// Append adds asset if absent and returns its index. Adding a new asset bumps
// the table version.
func (t *AssetLookupTable) Append(asset Pubkey) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i, ok := t.index[asset]; ok {
		return i
	}
	i := uint64(len(t.assets))
	t.assets = append(t.assets, asset)
	t.index[asset] = i
	t.version++
	return i
}

// IndexOf returns the index of asset.
func (t *AssetLookupTable) IndexOf(asset Pubkey) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[asset]
	return i, ok
}

// At returns the asset stored at index i.
func (t *AssetLookupTable) At(i uint64) (Pubkey, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i >= uint64(len(t.assets)) {
		return Pubkey{}, false
	}
	return t.assets[i], true
}

// Len returns the number of assets, native included.
func (t *AssetLookupTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.assets)
}

// Version counts the appends since construction.
func (t *AssetLookupTable) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

// Assets returns a copy of the table contents.
func (t *AssetLookupTable) Assets() []Pubkey {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Pubkey(nil), t.assets...)
}

// ProgramRegistry binds program addresses to the schema of the application
// data their UTXOs carry.
type ProgramRegistry struct {
	mu      sync.RWMutex
	schemas map[Pubkey]*AppDataSchema
	order   []Pubkey
}

// NewProgramRegistry returns an empty registry.
func NewProgramRegistry() *ProgramRegistry {
	return &ProgramRegistry{schemas: make(map[Pubkey]*AppDataSchema)}
}

// Register appends program with its schema and returns its position.
// Re-registering the same schema is a no-op; a different one is an error.
func (r *ProgramRegistry) Register(program Pubkey, schema *AppDataSchema) (uint64, error) {
	if program.IsZero() {
		return 0, fmt.Errorf("program address is zero")
	}
	if schema == nil {
		return 0, fmt.Errorf("schema is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.schemas[program]; ok {
		if existing.ID != schema.ID {
			return 0, fmt.Errorf("program %s already bound to schema %q", program, existing.ID)
		}
		for i, p := range r.order {
			if p == program {
				return uint64(i), nil
			}
		}
	}
	r.schemas[program] = schema
	r.order = append(r.order, program)
	return uint64(len(r.order) - 1), nil
}

// Lookup returns the schema bound to program.
func (r *ProgramRegistry) Lookup(program Pubkey) (*AppDataSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[program]
	return s, ok
}

// Len returns the number of registered programs.
func (r *ProgramRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
