// Package oracle defines the USD to native-token rate source consumed when
// payment documents are built. The gateway treats the oracle as an external
// collaborator; callers supply an implementation backed by whatever price
// feed they trust.
package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/x402/types"
)

// RateSource returns the current USD price of one whole native token for a
// chain (e.g. 3000 for an ETH-like token trading at $3000).
type RateSource interface {
	Rate(ctx context.Context, chainID string) (decimal.Decimal, error)
}

// FixedSource serves static rates keyed by chain id. Useful for tests and
// for deployments that pin rates out of band.
type FixedSource struct {
	rates map[string]decimal.Decimal
}

// NewFixedSource copies the given rate table into a FixedSource.
func NewFixedSource(rates map[string]decimal.Decimal) *FixedSource {
	cp := make(map[string]decimal.Decimal, len(rates))
	for k, v := range rates {
		cp[k] = v
	}
	return &FixedSource{rates: cp}
}

func (s *FixedSource) Rate(_ context.Context, chainID string) (decimal.Decimal, error) {
	rate, ok := s.rates[chainID]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, types.NewError(types.ErrUnsupportedChain, "no rate for chain %s", chainID)
	}
	return rate, nil
}

// CachedSource decorates a RateSource with a per-chain TTL cache so a burst
// of request creations performs at most one upstream lookup per chain per
// window.
type CachedSource struct {
	src RateSource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedRate
}

type cachedRate struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// NewCachedSource wraps src with a TTL cache.
func NewCachedSource(src RateSource, ttl time.Duration) *CachedSource {
	return &CachedSource{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedRate),
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *CachedSource) SetClock(now func() time.Time) {
	s.now = now
}

func (s *CachedSource) Rate(ctx context.Context, chainID string) (decimal.Decimal, error) {
	s.mu.Lock()
	entry, ok := s.entries[chainID]
	s.mu.Unlock()

	if ok && s.now().Sub(entry.fetchedAt) < s.ttl {
		return entry.rate, nil
	}

	rate, err := s.src.Rate(ctx, chainID)
	if err != nil {
		// Serve the stale rate rather than failing the document build when
		// the upstream feed has a transient outage.
		if ok {
			return entry.rate, nil
		}
		return decimal.Zero, err
	}

	s.mu.Lock()
	s.entries[chainID] = cachedRate{rate: rate, fetchedAt: s.now()}
	s.mu.Unlock()
	return rate, nil
}
