// Package x402 implements a pay-per-use payment gateway over the x402
// ("HTTP 402 Payment Required") protocol: a priced endpoint refuses an
// unpaid request with machine-readable payment instructions, the client
// pays on one of the supported chains, and the gateway verifies the
// on-chain payment before releasing the response exactly once.
package x402

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ledgerlens/x402/chains"
	"github.com/ledgerlens/x402/config"
	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/middleware"
	"github.com/ledgerlens/x402/oracle"
	"github.com/ledgerlens/x402/payments"
	"github.com/ledgerlens/x402/pricing"
	"github.com/ledgerlens/x402/store"
	"github.com/ledgerlens/x402/tracker"
	"github.com/ledgerlens/x402/types"
	"github.com/ledgerlens/x402/verification"
)

// Version information.
const (
	Version         = "1.0.0"
	ProtocolVersion = types.ProtocolVersion
)

// DefaultRPCTimeout bounds a single chain RPC round trip. The protocol's
// only long timeout is the 10-minute payment window; individual RPC calls
// stay in the seconds range and surface timeouts as retryable errors.
const DefaultRPCTimeout = 10 * time.Second

// X402 assembles the full gateway: chain registry, pricing resolver, price
// oracle, payment request manager, per-family verifiers, status tracker,
// and the HTTP middleware.
type X402 struct {
	registry *chains.Registry
	pricing  *pricing.Resolver
	rates    oracle.RateSource
	store    store.Store
	verify   *verification.Service
	manager  *payments.Manager
	tracker  *tracker.Tracker
	gateway  *middleware.Gateway

	log        logger.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
	requestTTL time.Duration
	retention  time.Duration
	now        func() time.Time
}

// New wires a gateway from the catalogue config and a rate source. RPC
// clients are dialed once per chain and shared across all verifications.
func New(cfg *config.Config, rates oracle.RateSource, opts ...Option) (*X402, error) {
	x := &X402{
		rates:      rates,
		log:        logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		timeout:    DefaultRPCTimeout,
		requestTTL: payments.DefaultRequestTTL,
		retention:  payments.DefaultRetention,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.store == nil {
		x.store = store.NewMemoryStore()
	}

	registry, err := chains.NewRegistry(cfg.Chains)
	if err != nil {
		return nil, err
	}
	x.registry = registry
	x.pricing = pricing.NewResolver(cfg.PricingEntries())

	x.verify = verification.NewService(x.timeout, x.log, x.metrics)
	if err := x.attachVerifiers(); err != nil {
		return nil, err
	}

	x.manager = payments.NewManager(x.registry, x.pricing, x.rates, x.store,
		payments.WithRequestTTL(x.requestTTL),
		payments.WithRetention(x.retention),
		payments.WithClock(x.now),
		payments.WithLogger(x.log),
		payments.WithMetrics(x.metrics),
	)
	x.tracker = tracker.New(x.store, x.registry, x.verify,
		tracker.WithClock(x.now),
		tracker.WithLogger(x.log),
		tracker.WithMetrics(x.metrics),
	)
	x.gateway = middleware.NewGateway(x.pricing, x.manager, x.tracker,
		middleware.WithClock(x.now),
		middleware.WithLogger(x.log),
		middleware.WithMetrics(x.metrics),
	)
	return x, nil
}

func (x *X402) attachVerifiers() error {
	var evm *verification.EVMVerifier
	var sol *verification.SolanaVerifier

	for _, chain := range x.registry.All() {
		switch chain.Family {
		case types.ChainFamilyEVM:
			if evm == nil {
				evm = verification.NewEVMVerifier()
				x.verify.Register(types.ChainFamilyEVM, evm)
			}
			if err := evm.AddChain(chain); err != nil {
				return err
			}
		case types.ChainFamilySolana:
			if sol == nil {
				sol = verification.NewSolanaVerifier()
				x.verify.Register(types.ChainFamilySolana, sol)
			}
			if err := sol.AddChain(chain); err != nil {
				return err
			}
		default:
			return types.NewError(types.ErrUnsupportedChain, "unsupported chain family %q", chain.Family)
		}
	}
	return nil
}

// Middleware returns the gin middleware protecting priced endpoints.
// Unpriced endpoints pass through untouched.
func (x *X402) Middleware() gin.HandlerFunc {
	return x.gateway.Handler()
}

// Registry exposes the chain catalogue.
func (x *X402) Registry() *chains.Registry {
	return x.registry
}

// Manager exposes the payment request manager.
func (x *X402) Manager() *payments.Manager {
	return x.manager
}

// Tracker exposes the payment status tracker.
func (x *X402) Tracker() *tracker.Tracker {
	return x.tracker
}

// IsChainSupported reports whether a chain id is in the catalogue with a
// registered verifier.
func (x *X402) IsChainSupported(id string) bool {
	cfg, err := x.registry.Lookup(id)
	if err != nil {
		return false
	}
	return x.verify.IsFamilySupported(cfg.Family)
}

// StartSweeper launches the background expiry and retention sweep.
func (x *X402) StartSweeper(interval time.Duration) {
	x.manager.StartSweeper(interval)
}

// Close stops the sweeper and closes all chain RPC clients.
func (x *X402) Close() {
	x.manager.Stop()
	x.verify.Close()
}
