package balance

import (
	"errors"
	"fmt"
	"math/big"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
	"github.com/timshannon/badgerhold/v4"

	"zkutxo/internal/account"
	"zkutxo/internal/utxo"
)

const balanceStoreDir = "balances"

// utxoRecord is the persisted form of one ledger entry. Data holds the
// uncompressed codec bytes.
type utxoRecord struct {
	Owner     string `badgerholdIndex:"Owner"`
	Key       string
	Asset     string
	State     State
	LeafIndex uint64
	Data      []byte
	Proof     []string
}

type prefixRecord struct {
	Owner string `badgerholdIndex:"Owner"`
	Pool  utxo.Pubkey
	Index uint64
}

// Store persists balances in badger. An empty directory keeps everything in
// memory.
type Store struct {
	store *badgerhold.Store
}

// NewStore opens the store under baseDir.
func NewStore(baseDir string, log zerolog.Logger) (*Store, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, balanceStoreDir)
	}
	store, err := createDB(dir, badgerLogger{log})
	if err != nil {
		return nil, fmt.Errorf("failed to open balance store: %w", err)
	}
	return &Store{store: store}, nil
}

func (s *Store) Close() error {
	return s.store.Close()
}

func recordKey(owner, commitment string) string {
	return owner + "/" + commitment
}

// Save writes every entry of b for acct, replacing earlier state.
func (s *Store) Save(acct *account.Account, codec *utxo.Codec, b *Balance) error {
	owner := acct.Owner().String()
	if err := s.store.DeleteMatching(&utxoRecord{}, badgerhold.Where("Owner").Eq(owner).Index("Owner")); err != nil {
		return fmt.Errorf("failed to clear utxos: %w", err)
	}
	if err := s.store.DeleteMatching(&prefixRecord{}, badgerhold.Where("Owner").Eq(owner).Index("Owner")); err != nil {
		return fmt.Errorf("failed to clear prefixes: %w", err)
	}

	for _, tb := range b.TokenBalances() {
		for _, u := range tb.Utxos {
			if err := s.put(codec, owner, StateUnspent, &u.OutUtxo, u); err != nil {
				return err
			}
		}
		for _, u := range tb.SpentUtxos {
			if err := s.put(codec, owner, StateSpent, &u.OutUtxo, u); err != nil {
				return err
			}
		}
		for _, u := range tb.CommittedUtxos {
			if err := s.put(codec, owner, StateCommitted, u, nil); err != nil {
				return err
			}
		}
	}
	for pool, idx := range b.prefixIndices() {
		rec := prefixRecord{Owner: owner, Pool: pool, Index: idx}
		if err := s.store.Upsert(owner+"/prefix/"+pool.String(), rec); err != nil {
			return fmt.Errorf("failed to save prefix index: %w", err)
		}
	}
	return nil
}

func (s *Store) put(codec *utxo.Codec, owner string, st State, out *utxo.OutUtxo, u *utxo.Utxo) error {
	data, err := codec.Encode(out, false)
	if err != nil {
		return fmt.Errorf("failed to encode utxo %s: %w", out.Key(), err)
	}
	rec := utxoRecord{
		Owner: owner,
		Key:   out.Key(),
		Asset: out.TokenAsset().String(),
		State: st,
		Data:  data,
	}
	if u != nil {
		rec.LeafIndex = u.MerkleTreeLeafIndex
		for _, p := range u.MerkleProof {
			rec.Proof = append(rec.Proof, p.String())
		}
	}
	if err := s.store.Upsert(recordKey(owner, rec.Key), rec); err != nil {
		return fmt.Errorf("failed to save utxo %s: %w", rec.Key, err)
	}
	return nil
}

// Load rebuilds acct's balance. Nullifiers are recomputed from the account.
func (s *Store) Load(acct *account.Account, codec *utxo.Codec) (*Balance, error) {
	owner := acct.Owner().String()
	var recs []utxoRecord
	if err := s.store.Find(&recs, badgerhold.Where("Owner").Eq(owner).Index("Owner")); err != nil {
		return nil, fmt.Errorf("failed to load utxos: %w", err)
	}

	b := New()
	for _, rec := range recs {
		out, err := codec.Decode(rec.Data, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode utxo %s: %w", rec.Key, err)
		}
		if out.Key() != rec.Key {
			return nil, fmt.Errorf("utxo record %s decodes to %s", rec.Key, out.Key())
		}
		if rec.State == StateCommitted {
			b.AddCommittedUtxo(out)
			continue
		}
		proof := make([]*big.Int, len(rec.Proof))
		for i, p := range rec.Proof {
			v, ok := new(big.Int).SetString(p, 10)
			if !ok {
				return nil, fmt.Errorf("utxo %s: bad proof element %q", rec.Key, p)
			}
			proof[i] = v
		}
		u, err := utxo.NewUtxo(codec.Hasher, out, acct, int64(rec.LeafIndex), proof)
		if err != nil {
			return nil, err
		}
		if rec.State == StateSpent {
			b.AddSpentUtxo(u)
		} else {
			b.AddUtxo(u)
		}
	}

	var prefixes []prefixRecord
	if err := s.store.Find(&prefixes, badgerhold.Where("Owner").Eq(owner).Index("Owner")); err != nil {
		return nil, fmt.Errorf("failed to load prefixes: %w", err)
	}
	for _, p := range prefixes {
		if p.Index > 0 {
			b.ObservePrefixIndex(p.Pool, p.Index-1)
		}
	}
	return b, nil
}

// Delete removes one persisted entry.
func (s *Store) Delete(acct *account.Account, commitment string) error {
	err := s.store.Delete(recordKey(acct.Owner().String(), commitment), utxoRecord{})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return ErrUtxoNotFound
	}
	return err
}

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

// badgerLogger routes badger's logging into zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.log.Error().Msgf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.log.Warn().Msgf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.log.Debug().Msgf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.log.Trace().Msgf(f, v...) }
