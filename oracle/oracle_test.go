package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/x402/types"
)

type countingSource struct {
	rate  decimal.Decimal
	err   error
	calls int
}

func (s *countingSource) Rate(context.Context, string) (decimal.Decimal, error) {
	s.calls++
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.rate, nil
}

func TestFixedSource(t *testing.T) {
	src := NewFixedSource(map[string]decimal.Decimal{
		"base": decimal.NewFromInt(3000),
	})

	rate, err := src.Rate(context.Background(), "base")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(3000)))

	_, err = src.Rate(context.Background(), "unknown")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedChain, types.CodeOf(err))
}

func TestCachedSourceServesWithinTTL(t *testing.T) {
	upstream := &countingSource{rate: decimal.NewFromInt(3000)}
	now := time.Unix(1_700_000_000, 0)
	cached := NewCachedSource(upstream, time.Minute)
	cached.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		rate, err := cached.Rate(context.Background(), "base")
		require.NoError(t, err)
		assert.True(t, rate.Equal(decimal.NewFromInt(3000)))
	}
	assert.Equal(t, 1, upstream.calls)

	// Past the TTL the upstream is consulted again.
	now = now.Add(2 * time.Minute)
	upstream.rate = decimal.NewFromInt(3100)
	rate, err := cached.Rate(context.Background(), "base")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(3100)))
	assert.Equal(t, 2, upstream.calls)
}

func TestCachedSourceServesStaleOnUpstreamFailure(t *testing.T) {
	upstream := &countingSource{rate: decimal.NewFromInt(150)}
	now := time.Unix(1_700_000_000, 0)
	cached := NewCachedSource(upstream, time.Minute)
	cached.SetClock(func() time.Time { return now })

	_, err := cached.Rate(context.Background(), "solana-mainnet")
	require.NoError(t, err)

	now = now.Add(time.Hour)
	upstream.err = errors.New("feed down")

	rate, err := cached.Rate(context.Background(), "solana-mainnet")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(150)))
}

func TestCachedSourcePropagatesColdFailure(t *testing.T) {
	upstream := &countingSource{err: errors.New("feed down")}
	cached := NewCachedSource(upstream, time.Minute)

	_, err := cached.Rate(context.Background(), "base")
	require.Error(t, err)
}
