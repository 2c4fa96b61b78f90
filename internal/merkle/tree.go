// Package merkle implements the commitment tree that UTXO proofs are drawn
// from.
package merkle

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"zkutxo/internal/hashing"
)

var (
	ErrTreeFull        = errors.New("merkle tree is full")
	ErrInvalidPosition = errors.New("invalid leaf position")
	ErrInvalidHeight   = errors.New("invalid tree height")
)

// DefaultHeight is the height of the on-chain state trees.
const DefaultHeight = 26

// Tree is the read side the wallet needs: the leaf index of a commitment
// and its authentication path.
type Tree interface {
	Height() int
	Root() *big.Int
	// IndexOf returns the leaf index of commitment, or -1.
	IndexOf(commitment *big.Int) int64
	Path(index uint64) ([]*big.Int, error)
}

// PoseidonTree is an append-only in-memory tree of fixed height. Empty
// subtrees hash to precomputed zero values.
type PoseidonTree struct {
	mu     sync.RWMutex
	hasher hashing.Hasher
	height int
	// nodes[level][index]; level 0 holds the leaves
	nodes  []map[uint64]*big.Int
	zeros  []*big.Int
	size   uint64
	root   *big.Int
	leaves map[string]uint64
}

// NewPoseidonTree returns an empty tree. A zero height selects DefaultHeight.
func NewPoseidonTree(h hashing.Hasher, height int) (*PoseidonTree, error) {
	if height == 0 {
		height = DefaultHeight
	}
	if height < 1 || height > 63 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidHeight, height)
	}
	t := &PoseidonTree{
		hasher: h,
		height: height,
		nodes:  make([]map[uint64]*big.Int, height+1),
		zeros:  make([]*big.Int, height+1),
		leaves: make(map[string]uint64),
	}
	for i := range t.nodes {
		t.nodes[i] = make(map[uint64]*big.Int)
	}
	t.zeros[0] = new(big.Int)
	for i := 1; i <= height; i++ {
		z, err := h.Hash(t.zeros[i-1], t.zeros[i-1])
		if err != nil {
			return nil, err
		}
		t.zeros[i] = z
	}
	t.root = t.zeros[height]
	return t, nil
}

func (t *PoseidonTree) Height() int { return t.height }

func (t *PoseidonTree) Root() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.root)
}

// Size returns the number of inserted leaves.
func (t *PoseidonTree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Insert appends leaves in order and returns the index of the first.
func (t *PoseidonTree) Insert(leaves ...*big.Int) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	first := t.size
	if t.size+uint64(len(leaves)) > uint64(1)<<t.height {
		return 0, ErrTreeFull
	}
	for _, leaf := range leaves {
		if !hashing.InField(leaf) {
			return 0, fmt.Errorf("merkle insert: leaf %v is not a field element", leaf)
		}
		if err := t.insert(leaf); err != nil {
			return 0, err
		}
	}
	return first, nil
}

func (t *PoseidonTree) insert(leaf *big.Int) error {
	pos := t.size
	cur := new(big.Int).Set(leaf)
	t.nodes[0][pos] = cur
	idx := pos
	for level := 0; level < t.height; level++ {
		sibling := t.node(level, idx^1)
		var err error
		if idx%2 == 0 {
			cur, err = t.hasher.Hash(cur, sibling)
		} else {
			cur, err = t.hasher.Hash(sibling, cur)
		}
		if err != nil {
			delete(t.nodes[0], pos)
			return err
		}
		idx /= 2
		t.nodes[level+1][idx] = cur
	}
	t.root = cur
	t.leaves[leaf.String()] = pos
	t.size++
	return nil
}

func (t *PoseidonTree) node(level int, index uint64) *big.Int {
	if n, ok := t.nodes[level][index]; ok {
		return n
	}
	return t.zeros[level]
}

func (t *PoseidonTree) IndexOf(commitment *big.Int) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if commitment == nil {
		return -1
	}
	i, ok := t.leaves[commitment.String()]
	if !ok {
		return -1
	}
	return int64(i)
}

// Path returns the sibling hashes from leaf level up to, but excluding, the
// root.
func (t *PoseidonTree) Path(index uint64) ([]*big.Int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if index >= t.size {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidPosition, index, t.size)
	}
	path := make([]*big.Int, t.height)
	idx := index
	for level := 0; level < t.height; level++ {
		path[level] = new(big.Int).Set(t.node(level, idx^1))
		idx /= 2
	}
	return path, nil
}

// Verify reports whether path authenticates leaf at index under root.
func Verify(h hashing.Hasher, leaf *big.Int, index uint64, path []*big.Int, root *big.Int) bool {
	cur := leaf
	for _, sibling := range path {
		var err error
		if index%2 == 0 {
			cur, err = h.Hash(cur, sibling)
		} else {
			cur, err = h.Hash(sibling, cur)
		}
		if err != nil {
			return false
		}
		index /= 2
	}
	return index == 0 && cur.Cmp(root) == 0
}
