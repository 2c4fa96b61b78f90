package balance

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/account"
	"zkutxo/internal/chain"
	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
)

var testPool = utxo.Pubkey{31: 7}

type syncFixture struct {
	t      *testing.T
	acct   *account.Account
	codec  *utxo.Codec
	ledger *chain.Ledger
}

func newSyncFixture(t *testing.T) *syncFixture {
	h := hashing.PoseidonHasher{}
	return &syncFixture{
		t:      t,
		acct:   testAccount(t, 1),
		codec:  utxo.NewCodec(h, utxo.NewAssetLookupTable(testMint), nil),
		ledger: chain.NewLedger(),
	}
}

// keep encrypts a change output under the account's own AES key.
func (f *syncFixture) keep(native uint64, prefixIndex uint64) (*utxo.OutUtxo, []byte) {
	out := newOut(f.t, f.acct, native, 0)
	ct, err := f.codec.Encrypt(out, utxo.EncryptParams{Account: f.acct, PoolKey: testPool, PrefixIndex: prefixIndex, Compressed: true})
	require.NoError(f.t, err)
	return out, ct
}

// send boxes an output to to.
func (f *syncFixture) send(to *account.Account, native, token uint64) (*utxo.OutUtxo, []byte) {
	key := to.EncryptionPublicKey()
	p := utxo.OutUtxoParams{Owner: to.Owner(), Amounts: []uint64{native}, EncryptionPublicKey: &key}
	if token > 0 {
		p.Amounts = append(p.Amounts, token)
		p.Assets = []utxo.Pubkey{utxo.NativeAsset, testMint}
	}
	out, err := utxo.NewOutUtxo(f.codec.Hasher, p)
	require.NoError(f.t, err)
	ct, err := f.codec.Encrypt(out, utxo.EncryptParams{Compressed: true})
	require.NoError(f.t, err)
	return out, ct
}

func (f *syncFixture) publish(outs []*utxo.OutUtxo, cts [][]byte) {
	cms := make([]*big.Int, len(outs))
	for i, o := range outs {
		cms[i] = o.Commitment
	}
	_, err := f.ledger.AppendUtxos(testPool, cms, cts)
	require.NoError(f.t, err)
}

func (f *syncFixture) syncer() *Syncer {
	tree, err := f.ledger.Tree(f.codec.Hasher, 8)
	require.NoError(f.t, err)
	return &Syncer{
		Chain:       f.ledger,
		Tree:        tree,
		Account:     f.acct,
		Codec:       f.codec,
		PoolKey:     testPool,
		Compressed:  true,
		Concurrency: 2,
		Log:         zerolog.Nop(),
	}
}

func TestSyncAdmitsOwnAndSkipsForeign(t *testing.T) {
	f := newSyncFixture(t)
	stranger := testAccount(t, 9)

	kept, keptCt := f.keep(100, 0)
	boxed, boxedCt := f.send(f.acct, 1, 5)
	foreign, foreignCt := f.send(stranger, 50, 0)

	// garbage that happens to carry our box prefix
	prefix := f.acct.BoxPrefix()
	junk := make([]byte, utxo.EncryptedCompressedLength)
	_, err := rand.Read(junk)
	require.NoError(t, err)
	junk = append(prefix[:], junk...)

	f.publish(
		[]*utxo.OutUtxo{kept, boxed, {Commitment: big.NewInt(12345)}, foreign},
		[][]byte{keptCt, boxedCt, junk, foreignCt},
	)

	b := New()
	res, err := f.syncer().Sync(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 2, res.Added)
	assert.Equal(t, 1, res.Filtered)
	assert.Equal(t, 1, res.Undecryptable)
	assert.Equal(t, "101", b.TotalNative().String())
	assert.Equal(t, uint64(1), b.PrefixIndex(testPool))

	tb, ok := b.Get(testMint)
	require.True(t, ok)
	assert.Equal(t, "5", tb.TotalAsset.String())
	requireTotals(t, b)

	// a second pass changes nothing
	res, err = f.syncer().Sync(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Added)
	assert.Equal(t, 2, res.Duplicates)
}

func TestSyncMovesSpentBeforeAdmitting(t *testing.T) {
	f := newSyncFixture(t)
	kept, keptCt := f.keep(100, 0)
	f.publish([]*utxo.OutUtxo{kept}, [][]byte{keptCt})

	b := New()
	_, err := f.syncer().Sync(context.Background(), b)
	require.NoError(t, err)
	spent := b.Utxos(utxo.NativeAsset)
	require.Len(t, spent, 1)

	// spend it into change, then spend the change too before syncing again
	change, changeCt := f.keep(60, 1)
	_, err = f.ledger.AppendTx(testPool, big.NewInt(1), []*big.Int{spent[0].Nullifier}, []*big.Int{change.Commitment}, [][]byte{changeCt})
	require.NoError(t, err)

	tree, err := f.ledger.Tree(f.codec.Hasher, 8)
	require.NoError(t, err)
	idx := tree.IndexOf(change.Commitment)
	require.GreaterOrEqual(t, idx, int64(0))
	changeUtxo, err := utxo.NewUtxo(f.codec.Hasher, change, f.acct, idx, nil)
	require.NoError(t, err)
	last, lastCt := f.keep(10, 2)
	_, err = f.ledger.AppendTx(testPool, big.NewInt(2), []*big.Int{changeUtxo.Nullifier}, []*big.Int{last.Commitment}, [][]byte{lastCt})
	require.NoError(t, err)

	res, err := f.syncer().Sync(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Spent)
	assert.Equal(t, 1, res.AlreadySpent, "change created and spent in the window stays out")
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, "10", b.TotalNative().String())
	assert.Equal(t, uint64(3), b.PrefixIndex(testPool))
	requireTotals(t, b)
}

func TestSyncPendingUntilInTree(t *testing.T) {
	f := newSyncFixture(t)
	s := f.syncer() // tree snapshot before publishing

	kept, keptCt := f.keep(42, 0)
	f.publish([]*utxo.OutUtxo{kept}, [][]byte{keptCt})

	b := New()
	res, err := s.Sync(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pending)
	assert.Len(t, b.CommittedUtxos(), 1)
	assert.Equal(t, "0", b.TotalNative().String())

	res, err = f.syncer().Sync(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Promoted)
	assert.Zero(t, res.Added)
	assert.Empty(t, b.CommittedUtxos())
	assert.Equal(t, "42", b.TotalNative().String())

	u := b.Utxos(utxo.NativeAsset)[0]
	assert.Len(t, u.MerkleProof, 8)
}

type failingChain struct{ chain.Client }

func (failingChain) NullifierExists(context.Context, *big.Int) (bool, error) {
	return false, errors.New("rpc down")
}

func TestSyncPropagatesChainErrors(t *testing.T) {
	f := newSyncFixture(t)
	b := New()
	b.AddUtxo(newUtxo(t, f.acct, 1, 0, 0))

	s := f.syncer()
	s.Chain = failingChain{Client: f.ledger}
	_, err := s.Sync(context.Background(), b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rpc down")
	assert.Equal(t, "1", b.TotalNative().String())
}

func TestViewRecoversAesOutputs(t *testing.T) {
	f := newSyncFixture(t)
	a, aCt := f.keep(100, 0)
	b, bCt := f.keep(200, 3)
	c, cCt := f.keep(50, 5)
	far, farCt := f.keep(70, 20)
	boxed, boxedCt := f.send(f.acct, 1, 5)
	f.publish([]*utxo.OutUtxo{a, boxed, b, c, far}, [][]byte{aCt, boxedCt, bCt, cCt, farCt})

	vk, err := f.acct.ViewingKey(testPool)
	require.NoError(t, err)
	viewed, err := View(context.Background(), f.ledger, f.codec, vk, true, 4)
	require.NoError(t, err)

	// boxed outputs need the account, index 20 is past the window
	require.Len(t, viewed, 3)
	assert.Equal(t, a.Key(), viewed[0].Utxo.Key())
	assert.Equal(t, uint64(3), viewed[1].PrefixIndex)
	assert.Equal(t, uint64(2), viewed[1].LeafIndex)
	assert.Equal(t, uint64(50), viewed[2].Utxo.Amounts[0])

	stranger, err := testAccount(t, 9).ViewingKey(testPool)
	require.NoError(t, err)
	viewed, err = View(context.Background(), f.ledger, f.codec, stranger, true, 0)
	require.NoError(t, err)
	assert.Empty(t, viewed)
}
