// Package store abstracts durable keyed persistence for payment records.
// The gateway needs get/put, per-key atomic read-modify-write, and
// TTL-style eviction; any backend providing those can replace the bundled
// in-memory implementation.
package store

import (
	"errors"

	"github.com/ledgerlens/x402/types"
)

// ErrNotFound is returned when no record exists for a request id.
var ErrNotFound = errors.New("store: record not found")

// Store persists payment records keyed by request id.
//
// Update is the linchpin: it must apply fn to the record under per-key
// exclusion so concurrent state transitions for the same request cannot
// interleave. If fn returns an error the record is left unchanged and the
// committed state is returned alongside the error.
type Store interface {
	Get(id string) (*types.PaymentRecord, error)
	Put(id string, rec *types.PaymentRecord) error
	Update(id string, fn func(*types.PaymentRecord) error) (*types.PaymentRecord, error)
	Delete(id string) error

	// Each visits every record. The callback receives a copy; returning
	// false stops the walk. Visitation order is unspecified.
	Each(fn func(id string, rec *types.PaymentRecord) bool)
}

// Clone returns a deep copy of rec safe to hand outside the store's locks.
func Clone(rec *types.PaymentRecord) *types.PaymentRecord {
	if rec == nil {
		return nil
	}
	cp := *rec
	if rec.Response != nil {
		resp := *rec.Response
		resp.Body = append([]byte(nil), rec.Response.Body...)
		cp.Response = &resp
	}
	return &cp
}
