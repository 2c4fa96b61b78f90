package chain

import (
	"context"
	"math/big"
	"sync"
	"time"

	"zkutxo/internal/utxo"
)

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	mu           sync.Mutex
	tokens       int
	maxTokens    int
	refillRate   int
	lastRefill   time.Time
	refillPeriod time.Duration
	now          func() time.Time
}

// NewRateLimiter allows bursts of maxTokens and adds refillRate tokens every
// refillPeriod.
func NewRateLimiter(maxTokens, refillRate int, refillPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		tokens:       maxTokens,
		maxTokens:    maxTokens,
		refillRate:   refillRate,
		lastRefill:   time.Now(),
		refillPeriod: refillPeriod,
		now:          time.Now,
	}
}

func (rl *RateLimiter) refill() {
	elapsed := rl.now().Sub(rl.lastRefill)
	if n := int(elapsed / rl.refillPeriod); n > 0 {
		rl.tokens = min(rl.tokens+n*rl.refillRate, rl.maxTokens)
		rl.lastRefill = rl.lastRefill.Add(time.Duration(n) * rl.refillPeriod)
	}
}

// Allow consumes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	if rl.tokens > 0 {
		rl.tokens--
		return true
	}
	return false
}

// Tokens returns the current number of available tokens
func (rl *RateLimiter) Tokens() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refill()
	return rl.tokens
}

// Wait blocks until a token is available or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if rl.Allow() {
			return nil
		}
		rl.mu.Lock()
		wait := rl.lastRefill.Add(rl.refillPeriod).Sub(rl.now())
		rl.mu.Unlock()
		if wait <= 0 {
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// RateLimitedClient throttles the calls made to an underlying Client, so
// concurrent nullifier checks do not flood an RPC endpoint.
type RateLimitedClient struct {
	Client  Client
	Limiter *RateLimiter
}

func (c *RateLimitedClient) NullifierExists(ctx context.Context, nullifier *big.Int) (bool, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return false, err
	}
	return c.Client.NullifierExists(ctx, nullifier)
}

func (c *RateLimitedClient) EncryptedUtxos(ctx context.Context, pool utxo.Pubkey, from uint64) ([]EncryptedUtxo, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.Client.EncryptedUtxos(ctx, pool, from)
}
