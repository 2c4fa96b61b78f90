package merkle

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zkutxo/internal/hashing"
)

func TestEmptyRoot(t *testing.T) {
	h := hashing.PoseidonHasher{}
	tree, err := NewPoseidonTree(h, 3)
	require.NoError(t, err)

	z1, err := h.Hash(big.NewInt(0), big.NewInt(0))
	require.NoError(t, err)
	z2, err := h.Hash(z1, z1)
	require.NoError(t, err)
	z3, err := h.Hash(z2, z2)
	require.NoError(t, err)
	assert.Equal(t, z3.String(), tree.Root().String())
	assert.Equal(t, int64(-1), tree.IndexOf(big.NewInt(1)))
}

func TestInsertAndPath(t *testing.T) {
	h := hashing.PoseidonHasher{}
	tree, err := NewPoseidonTree(h, 4)
	require.NoError(t, err)

	leaves := []*big.Int{big.NewInt(11), big.NewInt(22), big.NewInt(33), big.NewInt(44), big.NewInt(55)}
	first, err := tree.Insert(leaves[:2]...)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)
	first, err = tree.Insert(leaves[2:]...)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), first)
	assert.Equal(t, uint64(5), tree.Size())

	root := tree.Root()
	for i, leaf := range leaves {
		assert.Equal(t, int64(i), tree.IndexOf(leaf))
		path, err := tree.Path(uint64(i))
		require.NoError(t, err)
		require.Len(t, path, 4)
		assert.True(t, Verify(h, leaf, uint64(i), path, root), "leaf %d", i)
		assert.False(t, Verify(h, big.NewInt(99), uint64(i), path, root))
	}

	path, err := tree.Path(0)
	require.NoError(t, err)
	assert.False(t, Verify(h, leaves[0], 1, path, root))

	_, err = tree.Path(5)
	require.ErrorIs(t, err, ErrInvalidPosition)
}

func TestTreeFull(t *testing.T) {
	tree, err := NewPoseidonTree(hashing.PoseidonHasher{}, 1)
	require.NoError(t, err)
	_, err = tree.Insert(big.NewInt(1), big.NewInt(2))
	require.NoError(t, err)
	_, err = tree.Insert(big.NewInt(3))
	require.ErrorIs(t, err, ErrTreeFull)

	_, err = NewPoseidonTree(hashing.PoseidonHasher{}, 64)
	require.ErrorIs(t, err, ErrInvalidHeight)
}
