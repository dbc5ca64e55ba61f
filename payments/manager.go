// Package payments creates and maintains payment requests: pricing lookup,
// request issuance, payment document rendering, and expiry.
package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerlens/x402/chains"
	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/oracle"
	"github.com/ledgerlens/x402/pricing"
	"github.com/ledgerlens/x402/store"
	"github.com/ledgerlens/x402/types"
)

const (
	// DefaultRequestTTL is the payment window: a request not confirmed
	// within it expires and can never be reopened.
	DefaultRequestTTL = 10 * time.Minute

	// DefaultRetention is how long terminal records are kept before the
	// sweeper evicts them.
	DefaultRetention = 10 * time.Minute
)

// Manager is the payment request manager. It owns request creation and the
// payment document; lifecycle transitions past PENDING belong to the
// tracker.
type Manager struct {
	registry  *chains.Registry
	pricing   *pricing.Resolver
	rates     oracle.RateSource
	store     store.Store
	ttl       time.Duration
	retention time.Duration
	now       func() time.Time
	log       logger.Logger
	metrics   metrics.Recorder

	stopOnce sync.Once
	stop     chan struct{}
}

type Option func(*Manager)

// WithRequestTTL overrides the payment window.
func WithRequestTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithRetention overrides how long terminal records are retained.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithMetrics(r metrics.Recorder) Option {
	return func(m *Manager) { m.metrics = r }
}

// NewManager wires the manager over its collaborators.
func NewManager(reg *chains.Registry, res *pricing.Resolver, rates oracle.RateSource, st store.Store, opts ...Option) *Manager {
	m := &Manager{
		registry:  reg,
		pricing:   res,
		rates:     rates,
		store:     st,
		ttl:       DefaultRequestTTL,
		retention: DefaultRetention,
		now:       time.Now,
		log:       logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateRequest prices the endpoint and persists a new request with its
// initial PENDING status in one atomic put. The chain is the caller's
// preference when given, otherwise the catalogue default.
func (m *Manager) CreateRequest(ctx context.Context, path, method, preferredChain string) (*types.PaymentRecord, error) {
	entry, ok := m.pricing.Resolve(path, method)
	if !ok {
		return nil, types.NewError(types.ErrPricingNotFound, "no pricing for %s %s", method, path)
	}

	chainCfg := m.registry.Default()
	if preferredChain != "" {
		var err error
		chainCfg, err = m.registry.Lookup(preferredChain)
		if err != nil {
			return nil, err
		}
	}

	id, err := newRequestID()
	if err != nil {
		return nil, fmt.Errorf("generate request id: %w", err)
	}

	now := m.now()
	rec := &types.PaymentRecord{
		Request: types.PaymentRequest{
			RequestID: id,
			Path:      path,
			Method:    method,
			AmountUSD: entry.PriceUSD,
			Chain:     chainCfg.ID,
			Recipient: chainCfg.Recipient,
			CreatedAt: now,
			ExpiresAt: now.Add(m.ttl),
		},
		Status: types.StatusPending,
	}
	if err := m.store.Put(id, rec); err != nil {
		return nil, fmt.Errorf("persist payment request: %w", err)
	}

	m.metrics.IncCounter("request_created", map[string]string{"chain": chainCfg.ID})
	m.log.Info("payment request created", map[string]any{
		"request_id": id,
		"path":       path,
		"method":     method,
		"chain":      chainCfg.ID,
		"amount_usd": entry.PriceUSD.String(),
	})
	return rec, nil
}

// Get returns the record for a request id, applying lazy expiry first.
func (m *Manager) Get(id string) (*types.PaymentRecord, error) {
	rec, err := m.store.Update(id, func(r *types.PaymentRecord) error {
		ExpireIfDue(r, m.now())
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewError(types.ErrInvalidRequestID, "unknown request id %s", id)
	}
	return rec, err
}

// BuildPaymentDocument converts the request's USD price to native-token
// units via the oracle, rounded to the chain's precision, and renders the
// self-sufficient payment instructions. The token quote is fixed on first
// build so polling clients see a stable amount and verification has a
// fixed expectation.
func (m *Manager) BuildPaymentDocument(ctx context.Context, id string) (*types.PaymentDocument, error) {
	rec, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if rec.Status == types.StatusExpired {
		return nil, types.NewError(types.ErrRequestExpired, "payment request %s expired", id)
	}

	chainCfg, err := m.registry.Lookup(rec.Request.Chain)
	if err != nil {
		return nil, err
	}

	if rec.AmountToken.IsZero() {
		rate, err := m.rates.Rate(ctx, chainCfg.ID)
		if err != nil {
			return nil, fmt.Errorf("oracle rate for %s: %w", chainCfg.ID, err)
		}
		quote := rec.Request.AmountUSD.Div(rate).Round(chainCfg.Decimals)
		rec, err = m.store.Update(id, func(r *types.PaymentRecord) error {
			if r.AmountToken.IsZero() {
				r.AmountToken = quote
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("persist token quote: %w", err)
		}
		m.metrics.IncCounter("document_issued", map[string]string{"chain": chainCfg.ID})
	}

	req := rec.Request
	doc := &types.PaymentDocument{
		Amount:           req.AmountUSD,
		AmountToken:      rec.AmountToken,
		Currency:         "USD",
		Chain:            chainCfg.ID,
		RecipientAddress: req.Recipient,
		RequestID:        req.RequestID,
		ExpiresAt:        req.ExpiresAt,
		Scheme:           types.SchemeExact,
		Instructions: fmt.Sprintf(
			"Send %s %s to %s on %s before %s, then retry the request with the %s header set to %s and the %s header set to your transaction reference.",
			rec.AmountToken, chainCfg.Symbol, req.Recipient, chainCfg.Name,
			req.ExpiresAt.UTC().Format(time.RFC3339),
			types.HeaderRequestID, req.RequestID, types.HeaderTxReference,
		),
	}
	return doc, nil
}

// StartSweeper launches the background sweep that expires stale requests
// and evicts terminal records past the retention window. Independent of any
// request's lifetime; each entry is touched under its own lock.
func (m *Manager) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop terminates the background sweeper.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Sweep performs one pass over the store: lapse expirable requests, evict
// terminal records older than the retention window.
func (m *Manager) Sweep() {
	now := m.now()
	evicted := 0

	m.store.Each(func(id string, rec *types.PaymentRecord) bool {
		if rec.Status.Terminal() {
			ref := rec.Request.ExpiresAt
			if rec.Status == types.StatusConfirmed && !rec.ConsumedAt.IsZero() {
				ref = rec.ConsumedAt
			}
			if now.Sub(ref) > m.retention {
				if err := m.store.Delete(id); err == nil {
					evicted++
				}
			}
			return true
		}

		if rec.Request.Expired(now) {
			_, _ = m.store.Update(id, func(r *types.PaymentRecord) error {
				ExpireIfDue(r, now)
				return nil
			})
		}
		return true
	})

	if evicted > 0 {
		m.log.Info("sweeper evicted records", map[string]any{"count": evicted})
	}
}

// ExpireIfDue marks a record EXPIRED when its payment window has closed.
// Terminal states are left untouched; EXPIRED is entered at most once.
// Reports whether the record is expired after the check.
func ExpireIfDue(rec *types.PaymentRecord, now time.Time) bool {
	if rec.Status == types.StatusExpired {
		return true
	}
	if rec.Status.Terminal() {
		return false
	}
	if rec.Request.Expired(now) {
		rec.Status = types.StatusExpired
		return true
	}
	return false
}

// newRequestID returns a 128-bit random correlation token, hex-encoded.
func newRequestID() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
