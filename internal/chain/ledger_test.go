package chain

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/hashing"
	"zkutxo/internal/merkle"
	"zkutxo/internal/utxo"
)

var (
	poolA = utxo.Pubkey{0: 1}
	poolB = utxo.Pubkey{0: 2}
)

func bigs(vs ...int64) []*big.Int {
	out := make([]*big.Int, len(vs))
	for i, v := range vs {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestLedgerDoubleSpend(t *testing.T) {
	l := NewLedger()
	_, err := l.AppendTx(poolA, big.NewInt(1), bigs(100, 101), bigs(10, 11), [][]byte{{1}, {2}})
	require.NoError(t, err)
	assert.True(t, l.HasNullifier(big.NewInt(100)))
	assert.True(t, l.HasCommitment(big.NewInt(11)))

	_, err = l.AppendTx(poolA, big.NewInt(2), bigs(101), bigs(12), [][]byte{{3}})
	require.ErrorIs(t, err, ErrDoubleSpend)
	assert.False(t, l.HasCommitment(big.NewInt(12)), "rejected tx must not publish outputs")

	_, err = l.AppendTx(poolA, big.NewInt(3), bigs(102, 102), bigs(13), [][]byte{{3}})
	require.ErrorIs(t, err, ErrDoubleSpend)
	assert.False(t, l.HasNullifier(big.NewInt(102)))

	_, err = l.AppendTx(poolA, big.NewInt(4), bigs(103), bigs(10), [][]byte{{3}})
	require.ErrorIs(t, err, ErrDuplicateLeaf)
	assert.False(t, l.HasNullifier(big.NewInt(103)))

	_, err = l.AppendUtxos(poolA, bigs(20), nil)
	require.ErrorIs(t, err, ErrLengthMismatch)

	exists, err := l.NullifierExists(context.Background(), big.NewInt(101))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLedgerEncryptedUtxosByPool(t *testing.T) {
	l := NewLedger()
	first, err := l.AppendUtxos(poolA, bigs(1, 2), [][]byte{{0xa}, {0xb}})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	first, err = l.AppendUtxos(poolB, bigs(3), [][]byte{{0xc}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)
	_, err = l.AppendUtxos(poolA, bigs(4), [][]byte{{0xd}})
	require.NoError(t, err)

	got, err := l.EncryptedUtxos(context.Background(), poolA, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []uint64{0, 1, 3}, []uint64{got[0].LeafIndex, got[1].LeafIndex, got[2].LeafIndex})
	assert.Equal(t, "4", got[2].Commitment.String())
	assert.Equal(t, []byte{0xd}, got[2].Ciphertext)

	got, err = l.EncryptedUtxos(context.Background(), poolA, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].LeafIndex)
}

func TestLedgerFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")

	l, err := LoadOrCreateLedger(path)
	require.NoError(t, err)
	_, err = l.AppendTx(poolA, big.NewInt(9), bigs(100), bigs(1, 2), [][]byte{{1}, {2}})
	require.NoError(t, err)
	require.NoError(t, l.SaveToFile(path))

	loaded, err := LoadLedgerFromFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.HasNullifier(big.NewInt(100)))
	assert.True(t, loaded.HasCommitment(big.NewInt(2)))
	require.Len(t, loaded.TxList, 1)
	assert.Equal(t, "9", loaded.TxList[0].TxHash)

	_, err = loaded.AppendTx(poolA, big.NewInt(10), bigs(100), bigs(3), [][]byte{{3}})
	require.ErrorIs(t, err, ErrDoubleSpend)

	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	_, err = LoadLedgerFromFile(path)
	require.Error(t, err)
}

func TestLedgerSettleTxRollsBack(t *testing.T) {
	l := NewLedger()
	_, err := l.AppendTx(poolA, big.NewInt(1), bigs(100), bigs(1), [][]byte{{1}})
	require.NoError(t, err)

	bad := filepath.Join(t.TempDir(), "missing", "ledger.json")
	_, err = l.SettleTx(bad, poolA, big.NewInt(2), bigs(101), bigs(2, 3), [][]byte{{2}, {3}})
	require.ErrorIs(t, err, ErrPersist)
	assert.False(t, l.HasNullifier(big.NewInt(101)))
	assert.False(t, l.HasCommitment(big.NewInt(3)))
	assert.Len(t, l.CmList, 1)
	assert.Len(t, l.SnList, 1)
	assert.Len(t, l.TxList, 1)

	path := filepath.Join(t.TempDir(), "ledger.json")
	first, err := l.SettleTx(path, poolA, big.NewInt(2), bigs(101), bigs(2, 3), [][]byte{{2}, {3}})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first)
	loaded, err := LoadLedgerFromFile(path)
	require.NoError(t, err)
	assert.True(t, loaded.HasCommitment(big.NewInt(3)))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestLedgerTree(t *testing.T) {
	h := hashing.PoseidonHasher{}
	l := NewLedger()
	_, err := l.AppendUtxos(poolA, bigs(5, 6, 7), [][]byte{{}, {}, {}})
	require.NoError(t, err)

	tree, err := l.Tree(h, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tree.IndexOf(big.NewInt(7)))
	path, err := tree.Path(2)
	require.NoError(t, err)
	assert.True(t, merkle.Verify(h, big.NewInt(7), 2, path, tree.Root()))
}
