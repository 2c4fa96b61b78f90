// Package chain holds the wallet's view of on-chain state: published
// ciphertexts, their leaf indices, and the nullifier set.
package chain

import (
	"context"
	"errors"
	"math/big"

	"zkutxo/internal/utxo"
)

var (
	ErrDoubleSpend    = errors.New("double-spend: nullifier already in ledger")
	ErrDuplicateLeaf  = errors.New("commitment already in ledger")
	ErrLengthMismatch = errors.New("commitments and ciphertexts differ in length")
	ErrDBConnection   = errors.New("database connection error")
	ErrInvalidRecord  = errors.New("invalid chain record")
	ErrPersist        = errors.New("failed to persist ledger")
)

// EncryptedUtxo is one published output as a scanner sees it.
type EncryptedUtxo struct {
	PoolKey    utxo.Pubkey
	LeafIndex  uint64
	Commitment *big.Int
	Ciphertext []byte
}

// Client is the chain collaborator used by sync.
type Client interface {
	// NullifierExists reports whether nullifier has been spent.
	NullifierExists(ctx context.Context, nullifier *big.Int) (bool, error)
	// EncryptedUtxos returns the outputs published to pool with a leaf index
	// of at least from, in leaf order.
	EncryptedUtxos(ctx context.Context, pool utxo.Pubkey, from uint64) ([]EncryptedUtxo, error)
}
