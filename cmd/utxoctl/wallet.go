// wallet.go - Account seeds, balances and the ledger backend.

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"zkutxo/internal/account"
	"zkutxo/internal/balance"
	"zkutxo/internal/chain"
	"zkutxo/internal/merkle"
	"zkutxo/internal/relayer"
	"zkutxo/internal/utxo"
)

const (
	seedLength = 32
	// indexer queries allowed per second against Postgres
	queryRate = 50
)

func seedPath(e *env, name string) string {
	return filepath.Join(e.cfg.Paths.KeyDir, name+".seed")
}

func writeSeed(path string, seed []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(seed)+"\n"), 0o600)
}

func newSeed() ([]byte, error) {
	seed := make([]byte, seedLength)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}

// loadAccount reads the seed named by --account.
func loadAccount(c *cli.Context) (*account.Account, error) {
	e := envFrom(c)
	seed, err := readSeed(seedPath(e, c.String(accountFlag.Name)))
	if err != nil {
		return nil, err
	}
	return account.FromSeed(e.hasher, seed)
}

func readSeed(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read account seed (run keygen first): %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("seed file %s is not hex: %w", path, err)
	}
	return seed, nil
}

// wallet is an opened account with its persisted balance.
type wallet struct {
	acct    *account.Account
	store   *balance.Store
	balance *balance.Balance
}

func openWallet(c *cli.Context) (*wallet, error) {
	e := envFrom(c)
	acct, err := loadAccount(c)
	if err != nil {
		return nil, err
	}
	store, err := balance.NewStore(e.cfg.Paths.DataDir, e.log.Component("store"))
	if err != nil {
		return nil, err
	}
	b, err := store.Load(acct, e.codec)
	if err != nil {
		store.Close()
		return nil, err
	}
	return &wallet{acct: acct, store: store, balance: b}, nil
}

func (w *wallet) save(e *env) error {
	return w.store.Save(w.acct, e.codec, w.balance)
}

func (w *wallet) Close() error {
	return w.store.Close()
}

// backend is where pool state is read from and transactions are submitted
// to: the JSON ledger, a relayer when relayer.url is set, or a Postgres
// indexer when database.url is set.
type backend struct {
	client  chain.Client
	ledger  *chain.Ledger
	relayer *relayer.Client
	pg      *chain.PostgresClient
	path    string
}

func openBackend(ctx context.Context, e *env) (*backend, error) {
	if url := e.cfg.Relayer.URL; url != "" {
		rc := relayer.NewClient(url, "utxoctl")
		return &backend{client: rc, relayer: rc}, nil
	}
	if url := e.cfg.Database.URL; url != "" {
		pg, err := chain.NewPostgresClient(ctx, url)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to migrate indexer schema: %w", err)
		}
		return &backend{
			client: &chain.RateLimitedClient{Client: pg, Limiter: chain.NewRateLimiter(queryRate, queryRate, time.Second)},
			pg:     pg,
		}, nil
	}
	l, err := chain.LoadOrCreateLedger(e.cfg.Paths.Ledger)
	if err != nil {
		return nil, err
	}
	return &backend{client: l, ledger: l, path: e.cfg.Paths.Ledger}, nil
}

func (b *backend) Close() {
	if b.pg != nil {
		b.pg.Close()
	}
}

// tree rebuilds the commitment tree of the pool.
func (b *backend) tree(ctx context.Context, e *env) (*merkle.PoseidonTree, error) {
	if b.ledger != nil {
		return b.ledger.Tree(e.hasher, e.cfg.Merkle.Height)
	}
	items, err := b.client.EncryptedUtxos(ctx, e.pool, 0)
	if err != nil {
		return nil, err
	}
	tree, err := merkle.NewPoseidonTree(e.hasher, e.cfg.Merkle.Height)
	if err != nil {
		return nil, err
	}
	leaves := make([]*big.Int, len(items))
	for i, it := range items {
		if it.LeafIndex != uint64(i) {
			return nil, fmt.Errorf("indexer has a gap at leaf %d", i)
		}
		leaves[i] = it.Commitment
	}
	if len(leaves) > 0 {
		if _, err := tree.Insert(leaves...); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

// submit settles a transaction on the backend and returns the first leaf
// index of its outputs.
func (b *backend) submit(ctx context.Context, e *env, tree *merkle.PoseidonTree, action string, txHash *big.Int, fee uint64, nullifiers, commitments []*big.Int, ciphertexts [][]byte) (uint64, error) {
	if b.ledger != nil {
		return b.ledger.SettleTx(b.path, e.pool, txHash, nullifiers, commitments, ciphertexts)
	}
	if b.relayer != nil {
		return b.relayer.Submit(ctx, relayer.NewTransactionPayload(action, e.pool, txHash, nullifiers, commitments, ciphertexts, fee))
	}

	for _, n := range nullifiers {
		spent, err := b.pg.NullifierExists(ctx, n)
		if err != nil {
			return 0, err
		}
		if spent {
			return 0, fmt.Errorf("%w: %s", chain.ErrDoubleSpend, n)
		}
	}
	for _, n := range nullifiers {
		if err := b.pg.InsertNullifier(ctx, n, txHash); err != nil {
			return 0, fmt.Errorf("failed to insert nullifier: %w", err)
		}
	}
	first := tree.Size()
	for i, cm := range commitments {
		err := b.pg.InsertEncryptedUtxo(ctx, chain.EncryptedUtxo{
			PoolKey:    e.pool,
			LeafIndex:  first + uint64(i),
			Commitment: cm,
			Ciphertext: ciphertexts[i],
		})
		if err != nil {
			return 0, fmt.Errorf("failed to insert output %d: %w", i, err)
		}
	}
	return first, nil
}

// syncer scans the pool for acct's outputs.
func (e *env) syncer(client chain.Client, tree merkle.Tree, acct *account.Account) *balance.Syncer {
	return &balance.Syncer{
		Chain:        client,
		Tree:         tree,
		Account:      acct,
		Codec:        e.codec,
		PoolKey:      e.pool,
		Compressed:   true,
		Concurrency:  e.cfg.Sync.Concurrency,
		PrefixWindow: e.cfg.Sync.PrefixWindow,
		Log:          e.log.Component("sync"),
	}
}

// splitCiphertexts cuts the padded EncryptedUtxos of a transaction back into
// one compressed ciphertext per output.
func splitCiphertexts(data []byte, outputs int) ([][]byte, error) {
	const size = utxo.PrefixLength + utxo.EncryptedCompressedLength
	if len(data) < size*outputs {
		return nil, fmt.Errorf("encrypted utxos hold %d bytes, want %d", len(data), size*outputs)
	}
	out := make([][]byte, outputs)
	for i := range out {
		out[i] = data[i*size : (i+1)*size]
	}
	return out, nil
}
