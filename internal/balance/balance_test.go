package balance

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/account"
	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
)

var testMint = utxo.Pubkey{0: 0xaa, 31: 0x01}

func testAccount(t *testing.T, b byte) *account.Account {
	t.Helper()
	a, err := account.FromSeed(hashing.PoseidonHasher{}, bytes.Repeat([]byte{b}, 32))
	require.NoError(t, err)
	return a
}

func newOut(t *testing.T, acct *account.Account, native, token uint64) *utxo.OutUtxo {
	t.Helper()
	p := utxo.OutUtxoParams{Owner: acct.Owner(), Amounts: []uint64{native}}
	if token > 0 {
		p.Amounts = append(p.Amounts, token)
		p.Assets = []utxo.Pubkey{utxo.NativeAsset, testMint}
	}
	out, err := utxo.NewOutUtxo(hashing.PoseidonHasher{}, p)
	require.NoError(t, err)
	return out
}

func newUtxo(t *testing.T, acct *account.Account, native, token uint64, leaf int64) *utxo.Utxo {
	t.Helper()
	u, err := utxo.NewUtxo(hashing.PoseidonHasher{}, newOut(t, acct, native, token), acct, leaf, nil)
	require.NoError(t, err)
	return u
}

// requireTotals checks the running totals against a full recount.
func requireTotals(t *testing.T, b *Balance) {
	t.Helper()
	for _, tb := range b.TokenBalances() {
		native, asset := new(big.Int), new(big.Int)
		for _, u := range tb.Utxos {
			native.Add(native, new(big.Int).SetUint64(u.Amounts[0]))
			asset.Add(asset, new(big.Int).SetUint64(u.Amounts[1]))
		}
		require.Equal(t, native.String(), tb.TotalNative.String(), "native total of %s", tb.Asset)
		require.Equal(t, asset.String(), tb.TotalAsset.String(), "asset total of %s", tb.Asset)
	}
}

func TestBalanceTotalsInvariant(t *testing.T) {
	acct := testAccount(t, 1)
	b := New()

	u1 := newUtxo(t, acct, 100, 0, 0)
	u2 := newUtxo(t, acct, 7, 50, 1)
	u3 := newUtxo(t, acct, 3, 20, 2)

	assert.True(t, b.AddUtxo(u1))
	assert.True(t, b.AddUtxo(u2))
	assert.True(t, b.AddUtxo(u3))
	assert.False(t, b.AddUtxo(u2), "duplicate commitment")
	requireTotals(t, b)
	assert.Equal(t, "110", b.TotalNative().String())

	tb, ok := b.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, "70", tb.TotalAsset.String())
	assert.Len(t, tb.Utxos, 2)

	require.NoError(t, b.MoveToSpentUtxos(u2.Key()))
	requireTotals(t, b)
	assert.Equal(t, "103", b.TotalNative().String())
	require.ErrorIs(t, b.MoveToSpentUtxos(u2.Key()), ErrUtxoNotFound)
	assert.False(t, b.AddUtxo(u2), "spent utxo is not re-admitted")

	st, ok := b.State(u2.Key())
	require.True(t, ok)
	assert.Equal(t, StateSpent, st)

	// the returned copy is detached
	tb.TotalAsset.SetInt64(0)
	tb2, _ := b.Get(testMint)
	assert.Equal(t, "20", tb2.TotalAsset.String())
}

func TestSpendUtxoAcrossBalances(t *testing.T) {
	acct := testAccount(t, 1)
	first, second := New(), New()
	u := newUtxo(t, acct, 5, 0, 0)
	second.AddUtxo(u)

	assert.True(t, SpendUtxo([]*Balance{first, nil, second}, u.Key()))
	assert.False(t, SpendUtxo([]*Balance{first, second}, u.Key()))
	assert.False(t, SpendUtxo([]*Balance{first, second}, "0"))
	assert.Equal(t, "0", second.TotalNative().String())
	requireTotals(t, second)
}

func TestCommittedInboxPromotion(t *testing.T) {
	acct := testAccount(t, 1)
	b := New()
	out := newOut(t, acct, 9, 4)

	assert.True(t, b.AddCommittedUtxo(out))
	assert.False(t, b.AddCommittedUtxo(out))
	require.Len(t, b.CommittedUtxos(), 1)
	assert.Equal(t, "0", b.TotalNative().String(), "pending outputs do not count")

	u, err := utxo.NewUtxo(hashing.PoseidonHasher{}, out, acct, 3, nil)
	require.NoError(t, err)
	assert.True(t, b.AddUtxo(u))
	assert.Empty(t, b.CommittedUtxos())
	assert.Equal(t, "9", b.TotalNative().String())
	requireTotals(t, b)
}

func TestPromoteCommitted(t *testing.T) {
	acct := testAccount(t, 1)
	b := New()
	out := newOut(t, acct, 9, 4)
	u, err := utxo.NewUtxo(hashing.PoseidonHasher{}, out, acct, 3, nil)
	require.NoError(t, err)

	assert.False(t, b.PromoteCommitted(u), "nothing pending")
	assert.Equal(t, "0", b.TotalNative().String())

	require.True(t, b.AddCommittedUtxo(out))
	assert.True(t, b.PromoteCommitted(u))
	assert.Empty(t, b.CommittedUtxos())
	st, ok := b.State(u.Key())
	require.True(t, ok)
	assert.Equal(t, StateUnspent, st)
	assert.Equal(t, "9", b.TotalNative().String())
	requireTotals(t, b)

	assert.False(t, b.PromoteCommitted(u), "already unspent")
	assert.False(t, b.AddUtxo(u))
	assert.Equal(t, "9", b.TotalNative().String())
}

func TestUtxosOrderedByLeaf(t *testing.T) {
	acct := testAccount(t, 1)
	b := New()
	for _, leaf := range []int64{5, 1, 3} {
		b.AddUtxo(newUtxo(t, acct, uint64(leaf), 0, leaf))
	}
	got := b.Utxos(utxo.NativeAsset)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 3, 5}, []uint64{got[0].MerkleTreeLeafIndex, got[1].MerkleTreeLeafIndex, got[2].MerkleTreeLeafIndex})
	assert.Nil(t, b.Utxos(testMint))
	assert.Len(t, b.UnspentUtxos(), 3)
}

func TestPrefixIndex(t *testing.T) {
	b := New()
	pool := utxo.Pubkey{1: 1}
	assert.Equal(t, uint64(0), b.NextPrefixIndex(pool))
	assert.Equal(t, uint64(1), b.NextPrefixIndex(pool))
	assert.Equal(t, uint64(2), b.PrefixIndex(pool))

	b.ObservePrefixIndex(pool, 0)
	assert.Equal(t, uint64(2), b.PrefixIndex(pool))
	b.ObservePrefixIndex(pool, 9)
	assert.Equal(t, uint64(10), b.PrefixIndex(pool))
	assert.Equal(t, uint64(0), b.PrefixIndex(utxo.Pubkey{2: 2}))
}
