package relayer

import (
	"encoding/json"
	"fmt"
	"math/big"

	"zkutxo/internal/utxo"
)

// MessageTransaction is the envelope type of a transaction submission.
const MessageTransaction = "transaction"

// ActionShield marks deposits, which the sender pays for and which owe the
// relayer no fee.
const ActionShield = "SHIELD"

// Message is the generic envelope for anything posted to a relayer.
type Message struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	SenderID string          `json:"senderId"`
}

// TransactionPayload is a settled-ready transaction: the nullifiers of its
// inputs and the commitments and ciphertexts of its outputs. Field elements
// are decimal strings.
type TransactionPayload struct {
	Action      string   `json:"action"`
	Pool        string   `json:"pool"`
	TxHash      string   `json:"txHash"`
	Nullifiers  []string `json:"nullifiers"`
	Commitments []string `json:"commitments"`
	Ciphertexts [][]byte `json:"ciphertexts"`
	Fee         uint64   `json:"fee"`
}

// SubmitResponse is returned for an accepted transaction.
type SubmitResponse struct {
	FirstLeaf uint64 `json:"firstLeaf"`
}

// IndexedUtxo is one published output served by /utxos.
type IndexedUtxo struct {
	LeafIndex  uint64 `json:"leafIndex"`
	Commitment string `json:"commitment"`
	Ciphertext []byte `json:"ciphertext"`
}

// NullifierResponse is served by /nullifiers/{nullifier}.
type NullifierResponse struct {
	Spent bool `json:"spent"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewTransactionPayload encodes a transaction for submission.
func NewTransactionPayload(action string, pool utxo.Pubkey, txHash *big.Int, nullifiers, commitments []*big.Int, ciphertexts [][]byte, fee uint64) TransactionPayload {
	return TransactionPayload{
		Action:      action,
		Pool:        pool.String(),
		TxHash:      txHash.String(),
		Nullifiers:  decimals(nullifiers),
		Commitments: decimals(commitments),
		Ciphertexts: ciphertexts,
		Fee:         fee,
	}
}

type decodedTx struct {
	pool        utxo.Pubkey
	txHash      *big.Int
	nullifiers  []*big.Int
	commitments []*big.Int
}

func (p TransactionPayload) decode() (*decodedTx, error) {
	pool, err := utxo.ParsePubkey(p.Pool)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	if pool.IsZero() {
		return nil, fmt.Errorf("pool is undefined")
	}
	d := &decodedTx{pool: pool}
	if d.txHash, err = parseDecimal(p.TxHash); err != nil {
		return nil, fmt.Errorf("tx hash: %w", err)
	}
	if d.nullifiers, err = parseDecimals(p.Nullifiers); err != nil {
		return nil, fmt.Errorf("nullifiers: %w", err)
	}
	if d.commitments, err = parseDecimals(p.Commitments); err != nil {
		return nil, fmt.Errorf("commitments: %w", err)
	}
	if len(d.commitments) != len(p.Ciphertexts) {
		return nil, fmt.Errorf("%d commitments with %d ciphertexts", len(d.commitments), len(p.Ciphertexts))
	}
	return d, nil
}

func decimals(v []*big.Int) []string {
	out := make([]string, len(v))
	for i, x := range v {
		out[i] = x.String()
	}
	return out
}

func parseDecimal(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid field element %q", s)
	}
	return v, nil
}

func parseDecimals(s []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(s))
	for i, x := range s {
		v, err := parseDecimal(x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
