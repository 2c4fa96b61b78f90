package balance

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"zkutxo/internal/account"
	"zkutxo/internal/chain"
	"zkutxo/internal/merkle"
	"zkutxo/internal/utxo"
	"zkutxo/internal/zkerr"
)

const (
	DefaultSyncConcurrency = 8
	DefaultPrefixWindow    = 64
)

// Syncer brings a Balance up to date with one pool on chain.
type Syncer struct {
	Chain      chain.Client
	Tree       merkle.Tree
	Account    *account.Account
	Codec      *utxo.Codec
	PoolKey    utxo.Pubkey
	Compressed bool

	Concurrency  int // in-flight nullifier queries
	PrefixWindow int // AES prefix indices matched past the last one seen

	Log zerolog.Logger
}

// SyncResult counts what a sync pass did.
type SyncResult struct {
	Spent         int // unspent UTXOs found nullified
	Scanned       int // ciphertexts fetched
	Filtered      int // skipped by prefix
	Undecryptable int
	Pending       int // decrypted but not yet in the tree
	Promoted      int // pending outputs now in the tree
	AlreadySpent  int // decrypted but nullified
	Duplicates    int
	Added         int
}

// Sync runs one pass: nullified UTXOs are moved to spent first, then new
// ciphertexts are scanned and admitted. A UTXO created and spent inside the
// scanned range is never admitted as unspent.
func (s *Syncer) Sync(ctx context.Context, b *Balance) (*SyncResult, error) {
	if s.Account == nil {
		return nil, zkerr.New(zkerr.CodeAccountUndefined, "Sync", "account is undefined")
	}
	res := &SyncResult{}

	spent, err := s.checkNullifiers(ctx, b.UnspentUtxos())
	if err != nil {
		return nil, err
	}
	for _, key := range spent {
		if err := b.MoveToSpentUtxos(key); err == nil {
			res.Spent++
		}
	}

	items, err := s.Chain.EncryptedUtxos(ctx, s.PoolKey, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch encrypted utxos: %w", err)
	}
	res.Scanned = len(items)

	window := s.PrefixWindow
	if window <= 0 {
		window = DefaultPrefixWindow
	}
	next := b.PrefixIndex(s.PoolKey)
	scanned := next + uint64(window)
	candidates := s.Account.PrefixCandidates(s.PoolKey, 0, int(scanned))
	boxPrefix := s.Account.BoxPrefix()

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(item.Ciphertext) < utxo.PrefixLength {
			res.Filtered++
			continue
		}
		var prefix [utxo.PrefixLength]byte
		copy(prefix[:], item.Ciphertext)
		aesIndex, aesMatch := candidates[prefix]
		boxMatch := bytes.Equal(prefix[:], boxPrefix[:])
		if !aesMatch && !boxMatch {
			res.Filtered++
			continue
		}

		out, err := s.decrypt(item, boxMatch, aesMatch)
		if err != nil {
			if zkerr.IsRecoverable(err) {
				res.Undecryptable++
				continue
			}
			return nil, err
		}
		// boxed outputs always come back with an encryption key
		if aesMatch && out.EncryptionPublicKey == nil && aesIndex >= next {
			b.ObservePrefixIndex(s.PoolKey, aesIndex)
			next = aesIndex + 1
			if end := next + uint64(window); end > scanned {
				for p, i := range s.Account.PrefixCandidates(s.PoolKey, scanned, int(end-scanned)) {
					candidates[p] = i
				}
				scanned = end
			}
		}

		// pending outputs are promoted once the tree has them
		if st, ok := b.State(out.Key()); ok && st != StateCommitted {
			res.Duplicates++
			continue
		}
		if err := s.admit(ctx, b, out, item.LeafIndex, res); err != nil {
			return nil, err
		}
	}

	s.Log.Info().
		Str("pool", s.PoolKey.String()).
		Int("scanned", res.Scanned).
		Int("added", res.Added).
		Int("promoted", res.Promoted).
		Int("spent", res.Spent).
		Int("undecryptable", res.Undecryptable).
		Msg("sync complete")
	return res, nil
}

func (s *Syncer) decrypt(item chain.EncryptedUtxo, box, aes bool) (*utxo.OutUtxo, error) {
	p := utxo.DecryptParams{
		Account:    s.Account,
		PoolKey:    s.PoolKey,
		Commitment: item.Commitment,
		Compressed: s.Compressed,
	}
	var err error
	if box {
		var out *utxo.OutUtxo
		if out, err = s.Codec.Decrypt(item.Ciphertext, p); err == nil {
			return out, nil
		}
		if !aes || !zkerr.IsRecoverable(err) {
			return nil, err
		}
	}
	p.Aes = true
	return s.Codec.Decrypt(item.Ciphertext, p)
}

func (s *Syncer) admit(ctx context.Context, b *Balance, out *utxo.OutUtxo, leafIndex uint64, res *SyncResult) error {
	var proof []*big.Int
	if s.Tree != nil {
		idx := s.Tree.IndexOf(out.Commitment)
		if idx < 0 {
			b.AddCommittedUtxo(out)
			res.Pending++
			return nil
		}
		leafIndex = uint64(idx)
		p, err := s.Tree.Path(leafIndex)
		if err != nil {
			return err
		}
		proof = p
	}
	u, err := utxo.NewUtxo(s.Codec.Hasher, out, s.Account, int64(leafIndex), proof)
	if err != nil {
		return err
	}
	spent, err := s.Chain.NullifierExists(ctx, u.Nullifier)
	if err != nil {
		return fmt.Errorf("query nullifier: %w", err)
	}
	if spent {
		res.AlreadySpent++
		return nil
	}
	if b.PromoteCommitted(u) {
		res.Promoted++
		s.Log.Debug().Str("commitment", u.Key()).Uint64("leaf", leafIndex).Msg("pending utxo promoted")
	} else if b.AddUtxo(u) {
		res.Added++
		s.Log.Debug().Str("commitment", u.Key()).Uint64("leaf", leafIndex).Msg("utxo added")
	} else {
		res.Duplicates++
	}
	return nil
}

// checkNullifiers queries every UTXO's nullifier concurrently and returns
// the commitments found spent, in input order.
func (s *Syncer) checkNullifiers(ctx context.Context, utxos []*utxo.Utxo) ([]string, error) {
	limit := s.Concurrency
	if limit <= 0 {
		limit = DefaultSyncConcurrency
	}
	found := make([]bool, len(utxos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, u := range utxos {
		g.Go(func() error {
			ok, err := s.Chain.NullifierExists(gctx, u.Nullifier)
			if err != nil {
				return fmt.Errorf("query nullifier of %s: %w", u.Key(), err)
			}
			found[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var spent []string
	for i, ok := range found {
		if ok {
			spent = append(spent, utxos[i].Key())
		}
	}
	return spent, nil
}
