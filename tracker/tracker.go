// Package tracker drives the payment lifecycle state machine:
//
//	PENDING -> DETECTED -> CONFIRMING -> CONFIRMED
//
// with EXPIRED and INVALID as absorbing terminal states reachable from any
// non-terminal state. All transitions for one request id happen under the
// store's per-key exclusion, so concurrent status checks cannot race to
// different terminal states.
package tracker

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/x402/chains"
	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/payments"
	"github.com/ledgerlens/x402/store"
	"github.com/ledgerlens/x402/types"
	"github.com/ledgerlens/x402/verification"
)

// Handler produces the protected response. It is invoked exactly once per
// request id, at the CONFIRMING to CONFIRMED transition; afterwards the
// captured response is replayed from the record.
type Handler func(ctx context.Context) (*types.CachedResponse, error)

// VerifyService is the slice of verification.Service the tracker needs.
type VerifyService interface {
	Verify(ctx context.Context, chain types.ChainConfig, txRef string, expectedToken decimal.Decimal, recipient string) (*verification.Result, error)
}

// Tracker advances payment records based on verifier results.
type Tracker struct {
	store    store.Store
	registry *chains.Registry
	verify   VerifyService
	now      func() time.Time
	log      logger.Logger
	metrics  metrics.Recorder
}

type Option func(*Tracker)

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(t *Tracker) { t.metrics = r }
}

// New wires a tracker over the status store, chain registry, and verifier.
func New(st store.Store, reg *chains.Registry, vs VerifyService, opts ...Option) *Tracker {
	t := &Tracker{
		store:    st,
		registry: reg,
		verify:   vs,
		now:      time.Now,
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SubmitTxReference records the client's transaction reference and moves
// the request from PENDING to DETECTED. The reference is immutable once
// set: resubmitting the same reference is a no-op, a different one is a
// conflict. An expired request rejects any submission.
func (t *Tracker) SubmitTxReference(ctx context.Context, id, txRef string) (*types.PaymentRecord, error) {
	rec, err := t.store.Update(id, func(r *types.PaymentRecord) error {
		if payments.ExpireIfDue(r, t.now()) {
			return types.NewError(types.ErrRequestExpired, "payment request %s expired", id)
		}
		if r.TxReference == "" {
			r.TxReference = txRef
			r.Status = types.StatusDetected
			return nil
		}
		if r.TxReference != txRef {
			return types.NewError(types.ErrTxReferenceConflict,
				"request %s already has a transaction reference", id)
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewError(types.ErrInvalidRequestID, "unknown request id %s", id)
	}
	if err != nil {
		return rec, err
	}

	t.log.Info("transaction reference recorded", map[string]any{
		"request_id": id,
		"tx":         txRef,
		"chain":      rec.Request.Chain,
	})
	return rec, nil
}

// CheckStatus applies lazy expiry, advances the record one verification
// step when a transaction reference is present, and returns the current
// record. Terminal records are returned as-is; a CONFIRMED record carries
// the cached response and never re-invokes the handler. Transport failures
// are returned as errors with the last committed record, leaving the state
// untouched for the caller's next poll.
func (t *Tracker) CheckStatus(ctx context.Context, id string, invoke Handler) (*types.PaymentRecord, error) {
	rec, err := t.store.Update(id, func(r *types.PaymentRecord) error {
		payments.ExpireIfDue(r, t.now())
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewError(types.ErrInvalidRequestID, "unknown request id %s", id)
	}
	if err != nil {
		return rec, err
	}

	if rec.Status.Terminal() || rec.TxReference == "" {
		return rec, nil
	}

	chainCfg, err := t.registry.Lookup(rec.Request.Chain)
	if err != nil {
		return rec, err
	}

	// Single RPC round trip; the inbound request never blocks longer.
	result, err := t.verify.Verify(ctx, chainCfg, rec.TxReference, rec.AmountToken, rec.Request.Recipient)
	if err != nil {
		return rec, err
	}

	switch result.Outcome {
	case verification.OutcomeNotFound:
		// Not visible yet; leave the state for the next poll.
		return rec, nil

	case verification.OutcomePending:
		return t.store.Update(id, func(r *types.PaymentRecord) error {
			if payments.ExpireIfDue(r, t.now()) || r.Status.Terminal() {
				return nil
			}
			if r.Status == types.StatusDetected {
				r.Status = types.StatusConfirming
			}
			r.Confirmations = result.Confirmations
			return nil
		})

	case verification.OutcomeInvalid:
		rec, err = t.store.Update(id, func(r *types.PaymentRecord) error {
			if r.Status.Terminal() {
				return nil
			}
			r.Status = types.StatusInvalid
			return nil
		})
		if err == nil {
			t.metrics.IncCounter("payment_invalid", map[string]string{"chain": chainCfg.ID})
			t.log.Warn("payment invalid", map[string]any{
				"request_id": id,
				"tx":         rec.TxReference,
				"reason":     result.Reason,
			})
		}
		return rec, err

	case verification.OutcomeValid:
		return t.confirm(ctx, id, chainCfg, result, invoke)

	default:
		return rec, types.NewError(types.ErrRPCUnavailable, "unrecognized verification outcome %q", result.Outcome)
	}
}

// confirm applies DETECTED -> CONFIRMING -> CONFIRMED in order within one
// atomic update and invokes the protected handler exactly once. A handler
// failure aborts the commit, leaving the record retryable at CONFIRMING or
// DETECTED.
func (t *Tracker) confirm(
	ctx context.Context,
	id string,
	chainCfg types.ChainConfig,
	result *verification.Result,
	invoke Handler,
) (*types.PaymentRecord, error) {
	confirmed := false
	rec, err := t.store.Update(id, func(r *types.PaymentRecord) error {
		if payments.ExpireIfDue(r, t.now()) || r.Status.Terminal() {
			return nil
		}
		if r.Status == types.StatusDetected {
			r.Status = types.StatusConfirming
		}
		if r.Status != types.StatusConfirming {
			return nil
		}

		resp, err := invoke(ctx)
		if err != nil {
			return err
		}
		r.Status = types.StatusConfirmed
		r.Response = resp
		r.Confirmations = result.Confirmations
		r.ConsumedAt = t.now()
		confirmed = true
		return nil
	})
	if err != nil {
		return rec, err
	}

	if confirmed {
		t.metrics.IncCounter("payment_confirmed", map[string]string{"chain": chainCfg.ID})
		t.log.Info("payment confirmed", map[string]any{
			"request_id":    id,
			"tx":            rec.TxReference,
			"chain":         chainCfg.ID,
			"confirmations": rec.Confirmations,
		})
	}
	return rec, nil
}
