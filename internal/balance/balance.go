// Package balance keeps an account's UTXOs grouped by asset, with running
// totals, and brings them up to date from the chain.
package balance

import (
	"errors"
	"math/big"
	"sort"
	"sync"

	"zkutxo/internal/utxo"
)

var ErrUtxoNotFound = errors.New("utxo not found in balance")

// State is where a UTXO sits in the ledger.
type State string

const (
	StateUnspent   State = "unspent"
	StateSpent     State = "spent"
	StateCommitted State = "committed"
)

// TokenBalance holds the UTXOs whose token slot is Asset. Native-only UTXOs
// live under utxo.NativeAsset. TotalNative and TotalAsset always equal the
// sums over Utxos.
type TokenBalance struct {
	Asset          utxo.Pubkey
	Utxos          map[string]*utxo.Utxo
	SpentUtxos     map[string]*utxo.Utxo
	CommittedUtxos map[string]*utxo.OutUtxo
	TotalNative    *big.Int
	TotalAsset     *big.Int
}

func newTokenBalance(asset utxo.Pubkey) *TokenBalance {
	return &TokenBalance{
		Asset:          asset,
		Utxos:          make(map[string]*utxo.Utxo),
		SpentUtxos:     make(map[string]*utxo.Utxo),
		CommittedUtxos: make(map[string]*utxo.OutUtxo),
		TotalNative:    new(big.Int),
		TotalAsset:     new(big.Int),
	}
}

func (tb *TokenBalance) clone() *TokenBalance {
	c := newTokenBalance(tb.Asset)
	for k, v := range tb.Utxos {
		c.Utxos[k] = v
	}
	for k, v := range tb.SpentUtxos {
		c.SpentUtxos[k] = v
	}
	for k, v := range tb.CommittedUtxos {
		c.CommittedUtxos[k] = v
	}
	c.TotalNative.Set(tb.TotalNative)
	c.TotalAsset.Set(tb.TotalAsset)
	return c
}

// Balance is one account's ledger. All methods are safe for concurrent use;
// mutations are serialized.
type Balance struct {
	mu          sync.RWMutex
	tokens      map[utxo.Pubkey]*TokenBalance
	prefixIndex map[utxo.Pubkey]uint64
}

func New() *Balance {
	return &Balance{
		tokens:      make(map[utxo.Pubkey]*TokenBalance),
		prefixIndex: make(map[utxo.Pubkey]uint64),
	}
}

func (b *Balance) token(asset utxo.Pubkey) *TokenBalance {
	tb, ok := b.tokens[asset]
	if !ok {
		tb = newTokenBalance(asset)
		b.tokens[asset] = tb
	}
	return tb
}

// find returns the token balance holding key in any state.
func (b *Balance) find(key string) (*TokenBalance, State, bool) {
	for _, tb := range b.tokens {
		if _, ok := tb.Utxos[key]; ok {
			return tb, StateUnspent, true
		}
		if _, ok := tb.SpentUtxos[key]; ok {
			return tb, StateSpent, true
		}
		if _, ok := tb.CommittedUtxos[key]; ok {
			return tb, StateCommitted, true
		}
	}
	return nil, "", false
}

// AddUtxo admits u as unspent. It returns false, changing nothing, if the
// commitment is already unspent or spent. A matching pending entry is
// promoted.
func (b *Balance) AddUtxo(u *utxo.Utxo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := u.Key()
	if tb, st, ok := b.find(key); ok {
		if st != StateCommitted {
			return false
		}
		delete(tb.CommittedUtxos, key)
	}
	b.addUnspent(u)
	return true
}

// PromoteCommitted moves the pending entry of u to unspent now that u has a
// leaf. It returns false if u is not in the pending inbox.
func (b *Balance) PromoteCommitted(u *utxo.Utxo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := u.Key()
	tb, st, ok := b.find(key)
	if !ok || st != StateCommitted {
		return false
	}
	delete(tb.CommittedUtxos, key)
	b.addUnspent(u)
	return true
}

func (b *Balance) addUnspent(u *utxo.Utxo) {
	tb := b.token(u.TokenAsset())
	tb.Utxos[u.Key()] = u
	tb.TotalNative.Add(tb.TotalNative, new(big.Int).SetUint64(u.Amounts[0]))
	tb.TotalAsset.Add(tb.TotalAsset, new(big.Int).SetUint64(u.Amounts[1]))
}

// AddSpentUtxo records u as spent without touching totals. Used when
// restoring from storage.
func (b *Balance) AddSpentUtxo(u *utxo.Utxo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, ok := b.find(u.Key()); ok {
		return false
	}
	b.token(u.TokenAsset()).SpentUtxos[u.Key()] = u
	return true
}

// AddCommittedUtxo places an output in the pending inbox until it is
// confirmed in the tree.
func (b *Balance) AddCommittedUtxo(u *utxo.OutUtxo) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, _, ok := b.find(u.Key()); ok {
		return false
	}
	b.token(u.TokenAsset()).CommittedUtxos[u.Key()] = u
	return true
}

// MoveToSpentUtxos moves an unspent UTXO to the spent set.
func (b *Balance) MoveToSpentUtxos(commitment string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.moveToSpent(commitment)
}

func (b *Balance) moveToSpent(key string) error {
	tb, st, ok := b.find(key)
	if !ok || st != StateUnspent {
		return ErrUtxoNotFound
	}
	u := tb.Utxos[key]
	delete(tb.Utxos, key)
	tb.SpentUtxos[key] = u
	tb.TotalNative.Sub(tb.TotalNative, new(big.Int).SetUint64(u.Amounts[0]))
	tb.TotalAsset.Sub(tb.TotalAsset, new(big.Int).SetUint64(u.Amounts[1]))
	return nil
}

// SpendUtxo spends commitment in the first balance holding it unspent. It
// returns false if none does, so repeated calls are no-ops.
func SpendUtxo(balances []*Balance, commitment string) bool {
	for _, b := range balances {
		if b == nil {
			continue
		}
		if b.MoveToSpentUtxos(commitment) == nil {
			return true
		}
	}
	return false
}

// Has reports whether commitment is known in any state.
func (b *Balance) Has(commitment string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, _, ok := b.find(commitment)
	return ok
}

// State returns where commitment sits, if known.
func (b *Balance) State(commitment string) (State, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, st, ok := b.find(commitment)
	return st, ok
}

// Get returns a copy of the token balance for asset.
func (b *Balance) Get(asset utxo.Pubkey) (*TokenBalance, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.tokens[asset]
	if !ok {
		return nil, false
	}
	return tb.clone(), true
}

// TokenBalances returns copies of every token balance, native first and then
// by asset bytes.
func (b *Balance) TokenBalances() []*TokenBalance {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*TokenBalance, 0, len(b.tokens))
	for _, tb := range b.tokens {
		out = append(out, tb.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return lessPubkey(out[i].Asset, out[j].Asset)
	})
	return out
}

// TotalNative sums the native amount over every token balance.
func (b *Balance) TotalNative() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := new(big.Int)
	for _, tb := range b.tokens {
		total.Add(total, tb.TotalNative)
	}
	return total
}

// Utxos returns the unspent UTXOs under asset ordered by leaf index.
func (b *Balance) Utxos(asset utxo.Pubkey) []*utxo.Utxo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	tb, ok := b.tokens[asset]
	if !ok {
		return nil
	}
	return sortedUtxos(tb.Utxos)
}

// UnspentUtxos returns every unspent UTXO ordered by leaf index.
func (b *Balance) UnspentUtxos() []*utxo.Utxo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	all := make(map[string]*utxo.Utxo)
	for _, tb := range b.tokens {
		for k, u := range tb.Utxos {
			all[k] = u
		}
	}
	return sortedUtxos(all)
}

// CommittedUtxos returns the pending inbox ordered by commitment.
func (b *Balance) CommittedUtxos() []*utxo.OutUtxo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*utxo.OutUtxo
	for _, tb := range b.tokens {
		for _, u := range tb.CommittedUtxos {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Commitment.Cmp(out[j].Commitment) < 0 })
	return out
}

// NextPrefixIndex returns the AES prefix index for the next output kept in
// pool and advances it.
func (b *Balance) NextPrefixIndex(pool utxo.Pubkey) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.prefixIndex[pool]
	b.prefixIndex[pool] = i + 1
	return i
}

// PrefixIndex returns the next unused AES prefix index for pool.
func (b *Balance) PrefixIndex(pool utxo.Pubkey) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.prefixIndex[pool]
}

// ObservePrefixIndex marks index as used in pool.
func (b *Balance) ObservePrefixIndex(pool utxo.Pubkey, index uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if index+1 > b.prefixIndex[pool] {
		b.prefixIndex[pool] = index + 1
	}
}

func (b *Balance) prefixIndices() map[utxo.Pubkey]uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[utxo.Pubkey]uint64, len(b.prefixIndex))
	for k, v := range b.prefixIndex {
		out[k] = v
	}
	return out
}

func sortedUtxos(m map[string]*utxo.Utxo) []*utxo.Utxo {
	out := make([]*utxo.Utxo, 0, len(m))
	for _, u := range m {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MerkleTreeLeafIndex != out[j].MerkleTreeLeafIndex {
			return out[i].MerkleTreeLeafIndex < out[j].MerkleTreeLeafIndex
		}
		return out[i].Commitment.Cmp(out[j].Commitment) < 0
	})
	return out
}

func lessPubkey(a, b utxo.Pubkey) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
