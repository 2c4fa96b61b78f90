package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"zkutxo/internal/chain"
	"zkutxo/internal/utxo"
)

// ErrRejected is returned when the relayer refuses a request.
var ErrRejected = errors.New("relayer rejected request")

// Client talks to a relayer. It implements chain.Client.
type Client struct {
	BaseURL  string
	SenderID string
	HTTP     *http.Client
}

var _ chain.Client = (*Client)(nil)

// NewClient returns a client for the relayer at baseURL.
func NewClient(baseURL, senderID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		SenderID: senderID,
		HTTP:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Submit posts a transaction and returns the leaf index of its first output.
func (c *Client) Submit(ctx context.Context, payload TransactionPayload) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}
	body, err := json.Marshal(Message{Type: MessageTransaction, Payload: raw, SenderID: c.SenderID})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return 0, err
	}
	return resp.FirstLeaf, nil
}

func (c *Client) NullifierExists(ctx context.Context, nullifier *big.Int) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/nullifiers/"+nullifier.String(), nil)
	if err != nil {
		return false, err
	}
	var resp NullifierResponse
	if err := c.do(req, &resp); err != nil {
		return false, err
	}
	return resp.Spent, nil
}

func (c *Client) EncryptedUtxos(ctx context.Context, pool utxo.Pubkey, from uint64) ([]chain.EncryptedUtxo, error) {
	q := url.Values{}
	q.Set("pool", pool.String())
	q.Set("from", strconv.FormatUint(from, 10))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/utxos?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var items []IndexedUtxo
	if err := c.do(req, &items); err != nil {
		return nil, err
	}
	out := make([]chain.EncryptedUtxo, len(items))
	for i, it := range items {
		cm, err := parseDecimal(it.Commitment)
		if err != nil {
			return nil, fmt.Errorf("%w: leaf %d: %v", chain.ErrInvalidRecord, it.LeafIndex, err)
		}
		out[i] = chain.EncryptedUtxo{PoolKey: pool, LeafIndex: it.LeafIndex, Commitment: cm, Ciphertext: it.Ciphertext}
	}
	return out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("relayer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxMessageSize))
		if json.Unmarshal(body, &e) != nil || e.Error == "" {
			e.Error = resp.Status
		}
		if resp.StatusCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", chain.ErrDoubleSpend, e.Error)
		}
		return fmt.Errorf("%w: %s", ErrRejected, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("invalid relayer response: %w", err)
	}
	return nil
}
