// Package relayer settles shielded transactions on behalf of their senders
// and serves the indexed pool state back to scanning clients.
//
// A Server wraps a chain.Ledger. Clients post a Message envelope to /message;
// transactions are accepted when none of their nullifiers is known and,
// unless they are shields, they pay at least the minimum fee. Reads go through
// GET /utxos, GET /nullifiers/{nullifier} and GET /metrics. Client implements chain.Client
// over the same endpoints.
package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"zkutxo/internal/chain"
	"zkutxo/internal/utxo"
)

const maxMessageSize = 1 << 20

// Server is a relayer node.
type Server struct {
	ID     string
	ledger *chain.Ledger
	path   string
	minFee uint64
	log    zerolog.Logger
	stats  *Metrics

	// submissions are settled and saved one at a time
	mu sync.Mutex
}

// NewServer serves ledger. When path is set the ledger is saved there with
// every accepted transaction; a transaction that cannot be saved is undone.
func NewServer(id string, ledger *chain.Ledger, path string, minFee uint64, log zerolog.Logger) *Server {
	return &Server{
		ID:     id,
		ledger: ledger,
		path:   path,
		minFee: minFee,
		log:    log.With().Str("relayer", id).Logger(),
		stats:  NewMetrics(),
	}
}

// Handler returns the relayer's HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", s.messageHandler)
	mux.HandleFunc("GET /utxos", s.utxosHandler)
	mux.HandleFunc("GET /nullifiers/{nullifier}", s.nullifierHandler)
	mux.HandleFunc("GET /metrics", s.metricsHandler)
	return mux
}

// ListenAndServe serves on addr until ctx is done. ready, when not nil,
// receives the bound address once the listener is up.
func (s *Server) ListenAndServe(ctx context.Context, addr string, ready chan<- net.Addr) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", listener.Addr().String()).Msg("relayer starting")
		errCh <- srv.Serve(listener)
	}()
	if ready != nil {
		ready <- listener.Addr()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		return err
	}
	s.log.Info().Msg("relayer stopped")
	return nil
}

// messageHandler decodes the message envelope and dispatches on its type.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageSize)).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.log.Warn().Err(err).Msg("bad request")
		return
	}
	s.log.Debug().Str("type", msg.Type).Str("sender", msg.SenderID).Msg("message received")

	switch msg.Type {
	case MessageTransaction:
		var payload TransactionPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid transaction payload")
			return
		}
		s.handleTransaction(w, msg.SenderID, payload)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (s *Server) handleTransaction(w http.ResponseWriter, sender string, payload TransactionPayload) {
	start := time.Now()
	tx, err := payload.decode()
	if err != nil {
		s.stats.recordRejected("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Action != ActionShield && payload.Fee < s.minFee {
		s.stats.recordRejected("fee")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("fee %d below the minimum %d", payload.Fee, s.minFee))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	first, err := s.ledger.SettleTx(s.path, tx.pool, tx.txHash, tx.nullifiers, tx.commitments, payload.Ciphertexts)
	switch {
	case errors.Is(err, chain.ErrDoubleSpend), errors.Is(err, chain.ErrDuplicateLeaf):
		s.stats.recordRejected("conflict")
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, chain.ErrPersist):
		s.stats.recordRejected("persist")
		s.log.Error().Err(err).Msg("failed to save ledger")
		writeError(w, http.StatusInternalServerError, "failed to persist transaction")
		return
	case err != nil:
		s.stats.recordRejected("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.stats.recordSettled(payload.Action, payload.Fee, int(first)+len(tx.commitments), time.Since(start))
	s.log.Info().
		Str("sender", sender).
		Str("tx", payload.TxHash).
		Uint64("first_leaf", first).
		Uint64("fee", payload.Fee).
		Msg("transaction settled")
	writeJSON(w, http.StatusOK, SubmitResponse{FirstLeaf: first})
}

func (s *Server) utxosHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pool, err := utxo.ParsePubkey(q.Get("pool"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pool")
		return
	}
	var from uint64
	if f := q.Get("from"); f != "" {
		if from, err = strconv.ParseUint(f, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from")
			return
		}
	}
	items, err := s.ledger.EncryptedUtxos(r.Context(), pool, from)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]IndexedUtxo, len(items))
	for i, it := range items {
		out[i] = IndexedUtxo{LeafIndex: it.LeafIndex, Commitment: it.Commitment.String(), Ciphertext: it.Ciphertext}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) nullifierHandler(w http.ResponseWriter, r *http.Request) {
	n, err := parseDecimal(r.PathValue("nullifier"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, NullifierResponse{Spent: s.ledger.HasNullifier(n)})
}

func (s *Server) metricsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Summary())
}

// Metrics returns the server's collector.
func (s *Server) Metrics() *Metrics {
	return s.stats
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
