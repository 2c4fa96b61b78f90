package balance

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
)

func TestStoreRoundTrip(t *testing.T) {
	acct := testAccount(t, 1)
	other := testAccount(t, 2)
	codec := utxo.NewCodec(hashing.PoseidonHasher{}, utxo.NewAssetLookupTable(testMint), nil)

	store, err := NewStore("", zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()

	b := New()
	unspent := newUtxo(t, acct, 100, 0, 0)
	token := newUtxo(t, acct, 2, 30, 1)
	spent := newUtxo(t, acct, 9, 0, 2)
	pending := newOut(t, acct, 4, 0)
	b.AddUtxo(unspent)
	b.AddUtxo(token)
	b.AddUtxo(spent)
	require.NoError(t, b.MoveToSpentUtxos(spent.Key()))
	b.AddCommittedUtxo(pending)
	b.NextPrefixIndex(testPool)
	b.NextPrefixIndex(testPool)

	require.NoError(t, store.Save(acct, codec, b))
	otherBalance := New()
	otherBalance.AddUtxo(newUtxo(t, other, 1, 0, 5))
	require.NoError(t, store.Save(other, codec, otherBalance))

	loaded, err := store.Load(acct, codec)
	require.NoError(t, err)
	assert.Equal(t, "102", loaded.TotalNative().String())
	assert.Equal(t, uint64(2), loaded.PrefixIndex(testPool))
	requireTotals(t, loaded)

	st, ok := loaded.State(spent.Key())
	require.True(t, ok)
	assert.Equal(t, StateSpent, st)
	require.Len(t, loaded.CommittedUtxos(), 1)
	assert.Equal(t, pending.Key(), loaded.CommittedUtxos()[0].Key())

	got := loaded.Utxos(testMint)
	require.Len(t, got, 1)
	assert.Equal(t, token.Nullifier.String(), got[0].Nullifier.String())
	assert.Equal(t, uint64(1), got[0].MerkleTreeLeafIndex)

	// saving again replaces, it does not accumulate
	require.NoError(t, loaded.MoveToSpentUtxos(unspent.Key()))
	require.NoError(t, store.Save(acct, codec, loaded))
	reloaded, err := store.Load(acct, codec)
	require.NoError(t, err)
	assert.Equal(t, "2", reloaded.TotalNative().String())

	require.NoError(t, store.Delete(acct, token.Key()))
	require.ErrorIs(t, store.Delete(acct, token.Key()), ErrUtxoNotFound)

	others, err := store.Load(other, codec)
	require.NoError(t, err)
	assert.Equal(t, "1", others.TotalNative().String())
}

func TestStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	acct := testAccount(t, 1)
	codec := utxo.NewCodec(hashing.PoseidonHasher{}, utxo.NewAssetLookupTable(testMint), nil)

	store, err := NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	b := New()
	b.AddUtxo(newUtxo(t, acct, 77, 0, 0))
	require.NoError(t, store.Save(acct, codec, b))
	require.NoError(t, store.Close())

	store, err = NewStore(dir, zerolog.Nop())
	require.NoError(t, err)
	defer store.Close()
	loaded, err := store.Load(acct, codec)
	require.NoError(t, err)
	assert.Equal(t, "77", loaded.TotalNative().String())
}
