package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zkutxo/internal/hashing"
	"zkutxo/internal/utxo"
)

// Schema is the indexer layout PostgresClient reads from.
const Schema = `
CREATE TABLE IF NOT EXISTS encrypted_utxos (
	pool        BYTEA  NOT NULL,
	leaf_index  BIGINT NOT NULL,
	commitment  BYTEA  NOT NULL,
	ciphertext  BYTEA  NOT NULL,
	PRIMARY KEY (pool, leaf_index)
);
CREATE TABLE IF NOT EXISTS nullifiers (
	nullifier   BYTEA PRIMARY KEY,
	tx_hash     BYTEA
);
`

// PostgresClient reads chain state from an indexer database.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient connects to url and pings the database.
func NewPostgresClient(ctx context.Context, url string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrDBConnection, err)
	}
	return &PostgresClient{pool: pool}, nil
}

// Close closes the connection pool.
func (c *PostgresClient) Close() {
	c.pool.Close()
}

// Migrate creates the tables if they are missing.
func (c *PostgresClient) Migrate(ctx context.Context) error {
	_, err := c.pool.Exec(ctx, Schema)
	return err
}

func (c *PostgresClient) NullifierExists(ctx context.Context, nullifier *big.Int) (bool, error) {
	key := hashing.ToBytes32(nullifier)
	var one int
	err := c.pool.QueryRow(ctx, `SELECT 1 FROM nullifiers WHERE nullifier = $1`, key[:]).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query nullifier: %w", err)
	}
	return true, nil
}

func (c *PostgresClient) EncryptedUtxos(ctx context.Context, pool utxo.Pubkey, from uint64) ([]EncryptedUtxo, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT leaf_index, commitment, ciphertext
		FROM encrypted_utxos
		WHERE pool = $1 AND leaf_index >= $2
		ORDER BY leaf_index ASC`, pool[:], int64(from))
	if err != nil {
		return nil, fmt.Errorf("query encrypted utxos: %w", err)
	}
	defer rows.Close()

	var out []EncryptedUtxo
	for rows.Next() {
		var (
			idx        int64
			cm, cipher []byte
		)
		if err := rows.Scan(&idx, &cm, &cipher); err != nil {
			return nil, err
		}
		if idx < 0 || len(cm) != 32 {
			return nil, fmt.Errorf("%w: leaf %d", ErrInvalidRecord, idx)
		}
		out = append(out, EncryptedUtxo{
			PoolKey:    pool,
			LeafIndex:  uint64(idx),
			Commitment: new(big.Int).SetBytes(cm),
			Ciphertext: cipher,
		})
	}
	return out, rows.Err()
}

// InsertEncryptedUtxo writes one published output. Used by indexers and
// local tooling.
func (c *PostgresClient) InsertEncryptedUtxo(ctx context.Context, e EncryptedUtxo) error {
	cm := hashing.ToBytes32(e.Commitment)
	_, err := c.pool.Exec(ctx, `
		INSERT INTO encrypted_utxos (pool, leaf_index, commitment, ciphertext)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pool, leaf_index) DO NOTHING`,
		e.PoolKey[:], int64(e.LeafIndex), cm[:], e.Ciphertext)
	return err
}

// InsertNullifier records a spent nullifier.
func (c *PostgresClient) InsertNullifier(ctx context.Context, nullifier, txHash *big.Int) error {
	n := hashing.ToBytes32(nullifier)
	h := hashing.ToBytes32(txHash)
	_, err := c.pool.Exec(ctx, `
		INSERT INTO nullifiers (nullifier, tx_hash) VALUES ($1, $2)
		ON CONFLICT (nullifier) DO NOTHING`, n[:], h[:])
	return err
}
