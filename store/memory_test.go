package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/x402/types"
)

func testRecord(id string) *types.PaymentRecord {
	now := time.Unix(1_700_000_000, 0)
	return &types.PaymentRecord{
		Request: types.PaymentRequest{
			RequestID: id,
			Path:      "/api/tx/abc",
			Method:    "GET",
			AmountUSD: decimal.RequireFromString("0.01"),
			Chain:     "base",
			Recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
			CreatedAt: now,
			ExpiresAt: now.Add(10 * time.Minute),
		},
		Status: types.StatusPending,
	}
}

func TestMemoryStorePutGet(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))

	rec, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", rec.Request.RequestID)
	assert.Equal(t, types.StatusPending, rec.Status)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))

	rec, err := s.Get("r1")
	require.NoError(t, err)
	rec.Status = types.StatusInvalid

	fresh, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, fresh.Status)
}

func TestMemoryStoreUpdateCommitsOnSuccess(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))

	rec, err := s.Update("r1", func(r *types.PaymentRecord) error {
		r.Status = types.StatusDetected
		r.TxReference = "0xabc"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDetected, rec.Status)

	fresh, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", fresh.TxReference)
}

func TestMemoryStoreUpdateRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))

	boom := errors.New("boom")
	rec, err := s.Update("r1", func(r *types.PaymentRecord) error {
		r.Status = types.StatusConfirmed
		return boom
	})
	assert.ErrorIs(t, err, boom)
	// The error return carries the committed state, not the aborted work.
	assert.Equal(t, types.StatusPending, rec.Status)

	fresh, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, fresh.Status)
}

func TestMemoryStoreUpdateUnknownID(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Update("missing", func(*types.PaymentRecord) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreConcurrentUpdates(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Update("r1", func(r *types.PaymentRecord) error {
				r.Confirmations++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get("r1")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), rec.Confirmations)
}

func TestMemoryStoreDeleteAndEach(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put("r1", testRecord("r1")))
	require.NoError(t, s.Put("r2", testRecord("r2")))
	assert.Equal(t, 2, s.Len())

	require.NoError(t, s.Delete("r1"))
	assert.Equal(t, 1, s.Len())

	var visited []string
	s.Each(func(id string, rec *types.PaymentRecord) bool {
		visited = append(visited, id)
		return true
	})
	assert.Equal(t, []string{"r2"}, visited)
}

func TestCloneDeepCopiesResponse(t *testing.T) {
	rec := testRecord("r1")
	rec.Response = &types.CachedResponse{StatusCode: 200, Body: []byte("payload")}

	cp := Clone(rec)
	cp.Response.Body[0] = 'X'
	assert.Equal(t, byte('p'), rec.Response.Body[0])
}
