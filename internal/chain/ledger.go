// ledger.go - Append-only JSON ledger of published outputs and nullifiers.
//
// The Ledger stands in for the chain in local setups and tests: every
// participant reads from and appends to one file. Leaves are numbered in
// insertion order and nullifiers may only be added once.

package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sync"

	"zkutxo/internal/hashing"
	"zkutxo/internal/merkle"
	"zkutxo/internal/utxo"
)

// Leaf is a published output.
type Leaf struct {
	Pool       string `json:"pool"`
	Commitment string `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// TxRecord is a settled transaction.
type TxRecord struct {
	TxHash      string   `json:"tx_hash"`
	Nullifiers  []string `json:"nullifiers"`
	Commitments []string `json:"commitments"`
}

// Ledger is the local append-only ledger. Safe for concurrent use.
type Ledger struct {
	mu     sync.RWMutex
	CmList []Leaf      `json:"cm_list"`
	SnList []string    `json:"sn_list"`
	TxList []*TxRecord `json:"tx_list"`

	sn map[string]struct{}
	cm map[string]uint64
}

// NewLedger creates a new, empty ledger.
func NewLedger() *Ledger {
	l := &Ledger{
		CmList: make([]Leaf, 0),
		SnList: make([]string, 0),
		TxList: make([]*TxRecord, 0),
	}
	l.reindex()
	return l
}

func (l *Ledger) reindex() {
	l.sn = make(map[string]struct{}, len(l.SnList))
	for _, s := range l.SnList {
		l.sn[s] = struct{}{}
	}
	l.cm = make(map[string]uint64, len(l.CmList))
	for i, c := range l.CmList {
		l.cm[c.Commitment] = uint64(i)
	}
}

// AppendUtxos publishes commitments with their ciphertexts to pool and
// returns the leaf index of the first.
func (l *Ledger) AppendUtxos(pool utxo.Pubkey, commitments []*big.Int, ciphertexts [][]byte) (uint64, error) {
	if len(commitments) != len(ciphertexts) {
		return 0, ErrLengthMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLeaves(commitments); err != nil {
		return 0, err
	}
	return l.appendLeaves(pool, commitments, ciphertexts), nil
}

// AppendTx settles a transaction: its nullifiers are recorded and its
// outputs published. Nothing is written if any nullifier is already known.
func (l *Ledger) AppendTx(pool utxo.Pubkey, txHash *big.Int, nullifiers, commitments []*big.Int, ciphertexts [][]byte) (uint64, error) {
	return l.SettleTx("", pool, txHash, nullifiers, commitments, ciphertexts)
}

// SettleTx is AppendTx followed by a save to path under the same lock. When
// the save fails the transaction is undone and the ledger is left as it was.
// An empty path skips the save.
func (l *Ledger) SettleTx(path string, pool utxo.Pubkey, txHash *big.Int, nullifiers, commitments []*big.Int, ciphertexts [][]byte) (uint64, error) {
	if len(commitments) != len(ciphertexts) {
		return 0, ErrLengthMismatch
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]struct{}, len(nullifiers))
	for _, n := range nullifiers {
		key := n.String()
		if _, ok := l.sn[key]; ok {
			return 0, fmt.Errorf("%w: %s", ErrDoubleSpend, key)
		}
		if _, ok := seen[key]; ok {
			return 0, fmt.Errorf("%w: %s repeated in transaction", ErrDoubleSpend, key)
		}
		seen[key] = struct{}{}
	}
	if err := l.checkLeaves(commitments); err != nil {
		return 0, err
	}

	mark := l.mark()
	rec := &TxRecord{TxHash: txHash.String()}
	for _, n := range nullifiers {
		key := n.String()
		l.sn[key] = struct{}{}
		l.SnList = append(l.SnList, key)
		rec.Nullifiers = append(rec.Nullifiers, key)
	}
	for _, c := range commitments {
		rec.Commitments = append(rec.Commitments, c.String())
	}
	l.TxList = append(l.TxList, rec)
	first := l.appendLeaves(pool, commitments, ciphertexts)
	if path != "" {
		if err := l.save(path); err != nil {
			l.rollback(mark)
			return 0, fmt.Errorf("%w: %v", ErrPersist, err)
		}
	}
	return first, nil
}

// ledgerMark records the list lengths before a settle.
type ledgerMark struct{ cm, sn, tx int }

func (l *Ledger) mark() ledgerMark {
	return ledgerMark{cm: len(l.CmList), sn: len(l.SnList), tx: len(l.TxList)}
}

func (l *Ledger) rollback(m ledgerMark) {
	for _, leaf := range l.CmList[m.cm:] {
		delete(l.cm, leaf.Commitment)
	}
	for _, key := range l.SnList[m.sn:] {
		delete(l.sn, key)
	}
	l.CmList = l.CmList[:m.cm]
	l.SnList = l.SnList[:m.sn]
	l.TxList = l.TxList[:m.tx]
}

func (l *Ledger) checkLeaves(commitments []*big.Int) error {
	seen := make(map[string]struct{}, len(commitments))
	for _, c := range commitments {
		key := c.String()
		if _, ok := l.cm[key]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateLeaf, key)
		}
		if _, ok := seen[key]; ok {
			return fmt.Errorf("%w: %s repeated", ErrDuplicateLeaf, key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (l *Ledger) appendLeaves(pool utxo.Pubkey, commitments []*big.Int, ciphertexts [][]byte) uint64 {
	first := uint64(len(l.CmList))
	for i, c := range commitments {
		key := c.String()
		l.cm[key] = uint64(len(l.CmList))
		l.CmList = append(l.CmList, Leaf{
			Pool:       pool.String(),
			Commitment: key,
			Ciphertext: append([]byte{}, ciphertexts[i]...),
		})
	}
	return first
}

// HasNullifier reports whether the nullifier is already in the ledger.
func (l *Ledger) HasNullifier(n *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sn[n.String()]
	return ok
}

// HasCommitment reports whether the commitment is already in the ledger.
func (l *Ledger) HasCommitment(c *big.Int) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.cm[c.String()]
	return ok
}

func (l *Ledger) NullifierExists(_ context.Context, n *big.Int) (bool, error) {
	return l.HasNullifier(n), nil
}

func (l *Ledger) EncryptedUtxos(_ context.Context, pool utxo.Pubkey, from uint64) ([]EncryptedUtxo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	want := pool.String()
	var out []EncryptedUtxo
	for i := from; i < uint64(len(l.CmList)); i++ {
		leaf := l.CmList[i]
		if leaf.Pool != want {
			continue
		}
		cm, ok := new(big.Int).SetString(leaf.Commitment, 10)
		if !ok {
			return nil, fmt.Errorf("%w: leaf %d commitment %q", ErrInvalidRecord, i, leaf.Commitment)
		}
		out = append(out, EncryptedUtxo{
			PoolKey:    pool,
			LeafIndex:  i,
			Commitment: cm,
			Ciphertext: leaf.Ciphertext,
		})
	}
	return out, nil
}

// Tree rebuilds the commitment tree over every leaf in the ledger.
func (l *Ledger) Tree(h hashing.Hasher, height int) (*merkle.PoseidonTree, error) {
	tree, err := merkle.NewPoseidonTree(h, height)
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	leaves := make([]*big.Int, len(l.CmList))
	for i, leaf := range l.CmList {
		cm, ok := new(big.Int).SetString(leaf.Commitment, 10)
		if !ok {
			l.mu.RUnlock()
			return nil, fmt.Errorf("%w: leaf %d commitment %q", ErrInvalidRecord, i, leaf.Commitment)
		}
		leaves[i] = cm
	}
	l.mu.RUnlock()
	if len(leaves) > 0 {
		if _, err := tree.Insert(leaves...); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// SaveToFile writes the ledger as indented JSON, replacing path.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.save(path)
}

// save writes to a temporary file next to path and renames it into place, so
// a failed write never truncates the previous ledger.
func (l *Ledger) save(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// LoadLedgerFromFile loads a ledger written by SaveToFile.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l := NewLedger()
	if err := json.NewDecoder(f).Decode(l); err != nil {
		return nil, fmt.Errorf("decode ledger %s: %w", path, err)
	}
	l.reindex()
	return l, nil
}

// LoadOrCreateLedger loads path, or returns an empty ledger if it does not
// exist yet.
func LoadOrCreateLedger(path string) (*Ledger, error) {
	l, err := LoadLedgerFromFile(path)
	if os.IsNotExist(err) {
		return NewLedger(), nil
	}
	return l, err
}
