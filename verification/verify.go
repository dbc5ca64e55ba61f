// Package verification checks submitted transaction references against the
// chain they were paid on: recipient, amount within tolerance, and
// confirmation depth. One verifier implementation exists per chain family,
// behind a single interface dispatched by the registry's family tag.
package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ledgerlens/x402/logger"
	"github.com/ledgerlens/x402/metrics"
	"github.com/ledgerlens/x402/types"
)

// Tolerance is the relative underpayment absorbed by every verifier.
// Fiat-to-token conversion at request creation and at payment time can
// disagree through price drift and decimal rounding; 1% covers that drift
// without allowing meaningful underpayment. One policy constant for all
// chain families keeps the economic guarantee uniform.
var Tolerance = decimal.RequireFromString("0.01")

// meetsExpected reports whether an observed payment satisfies the expected
// amount under the tolerance policy. Overpayment always satisfies.
func meetsExpected(observed, expected decimal.Decimal) bool {
	floor := expected.Mul(decimal.NewFromInt(1).Sub(Tolerance))
	return observed.GreaterThanOrEqual(floor)
}

// Outcome classifies a verification attempt.
type Outcome string

const (
	// OutcomeValid: payment matched recipient and amount at sufficient depth.
	OutcomeValid Outcome = "valid"

	// OutcomePending: transaction seen but under the confirmation
	// threshold. Retryable; the caller polls again.
	OutcomePending Outcome = "pending"

	// OutcomeNotFound: transaction or receipt not visible yet. Retryable.
	OutcomeNotFound Outcome = "not_found"

	// OutcomeInvalid: wrong recipient, insufficient amount, or on-chain
	// failure. Terminal for this transaction reference.
	OutcomeInvalid Outcome = "invalid"
)

// Result carries the outcome of one verification attempt. Transport
// failures are never encoded as a Result; they surface as errors so callers
// cannot mistake an unreachable RPC for an invalid payment.
type Result struct {
	Outcome       Outcome
	Confirmations uint64
	Reason        string
}

// Verifier is the per-family verification contract.
type Verifier interface {
	Verify(ctx context.Context, chain types.ChainConfig, txRef string, expectedToken decimal.Decimal, recipient string) (*Result, error)
	Close()
}

// Service dispatches verification to the verifier registered for the
// chain's family and bounds each attempt with a short RPC timeout.
type Service struct {
	verifiers map[types.ChainFamily]Verifier
	timeout   time.Duration
	log       logger.Logger
	metrics   metrics.Recorder
}

// NewService creates a verification service. Each Verify call is bounded
// by timeout regardless of the caller's context.
func NewService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *Service {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Service{
		verifiers: make(map[types.ChainFamily]Verifier),
		timeout:   timeout,
		log:       log,
		metrics:   rec,
	}
}

// Register installs the verifier for a chain family, replacing any prior one.
func (s *Service) Register(family types.ChainFamily, v Verifier) {
	s.verifiers[family] = v
}

// Verify routes one transaction reference to the verifier for the chain's
// family. The returned error is retryable transport failure only; protocol
// outcomes are carried in the Result.
func (s *Service) Verify(
	ctx context.Context,
	chain types.ChainConfig,
	txRef string,
	expectedToken decimal.Decimal,
	recipient string,
) (*Result, error) {
	v, ok := s.verifiers[chain.Family]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain, "no verifier for chain family %s", chain.Family)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := v.Verify(verifyCtx, chain, txRef, expectedToken, recipient)
	s.metrics.ObserveLatency("verify", time.Since(start), map[string]string{"chain": chain.ID})

	if err != nil {
		s.metrics.IncCounter("verify_transport_error", map[string]string{"chain": chain.ID})
		s.log.Warn("verification transport failure", map[string]any{
			"chain": chain.ID,
			"tx":    txRef,
			"error": err.Error(),
		})
		return nil, err
	}

	s.metrics.IncCounter(fmt.Sprintf("verify_%s", result.Outcome), map[string]string{"chain": chain.ID})
	s.log.Debug("verification attempt", map[string]any{
		"chain":         chain.ID,
		"tx":            txRef,
		"outcome":       string(result.Outcome),
		"confirmations": result.Confirmations,
	})
	return result, nil
}

// IsFamilySupported reports whether a verifier is registered for family.
func (s *Service) IsFamilySupported(family types.ChainFamily) bool {
	_, ok := s.verifiers[family]
	return ok
}

// Close closes every registered verifier's RPC connections.
func (s *Service) Close() {
	for _, v := range s.verifiers {
		v.Close()
	}
}
