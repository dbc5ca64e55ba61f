// Package types defines the shared data model of the x402 pay-per-use
// gateway: payment requests, their lifecycle status, the catalogue entries
// they are priced and routed against, and the wire documents exchanged
// with paying clients.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProtocolVersion is the x402 protocol version spoken by this module.
const ProtocolVersion = 1

// SchemeExact is the only payment scheme supported by the gateway:
// the client pays the quoted amount, once, for one response.
const SchemeExact = "exact"

// Status is the lifecycle state of a payment request.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDetected   Status = "DETECTED"
	StatusConfirming Status = "CONFIRMING"
	StatusConfirmed  Status = "CONFIRMED"
	StatusExpired    Status = "EXPIRED"
	StatusInvalid    Status = "INVALID"
)

// Terminal reports whether s is absorbing: no transition leads out of it.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusExpired || s == StatusInvalid
}

// ChainFamily classifies a chain by the verifier implementation it needs.
type ChainFamily string

const (
	ChainFamilyEVM    ChainFamily = "evm"
	ChainFamilySolana ChainFamily = "solana"
)

// ChainConfig is a static catalogue entry for one supported chain.
// Entries are read-only after startup.
type ChainConfig struct {
	// ID is the chain identifier clients select payments with (e.g. "base").
	ID string `json:"id" yaml:"id" validate:"required"`

	// Name is the human display name.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Family selects the verifier implementation.
	Family ChainFamily `json:"family" yaml:"family" validate:"required,oneof=evm solana"`

	// RPCURL is the chain's JSON-RPC endpoint.
	RPCURL string `json:"rpcUrl" yaml:"rpc_url" validate:"required,url"`

	// Symbol is the native currency ticker (e.g. "ETH", "SOL").
	Symbol string `json:"symbol" yaml:"symbol" validate:"required"`

	// Decimals is the native currency precision: token amounts are rounded
	// to this many fractional digits (18 for EVM chains, 9 for Solana).
	Decimals int32 `json:"decimals" yaml:"decimals" validate:"gt=0"`

	// Recipient is the payment address funds must be sent to.
	Recipient string `json:"recipient" yaml:"recipient" validate:"required"`

	// ExplorerTxURL is a template for linking a transaction in a block
	// explorer; the literal "{tx}" is replaced with the tx reference.
	ExplorerTxURL string `json:"explorerTxUrl" yaml:"explorer_tx_url"`

	// MinConfirmations is the confirmation depth required before a payment
	// counts as final.
	MinConfirmations uint64 `json:"minConfirmations" yaml:"min_confirmations"`
}

// EndpointPricing is a static catalogue entry pricing one endpoint.
// Pattern may contain ":name" placeholder segments ("/address/:hash").
type EndpointPricing struct {
	Pattern     string          `json:"pattern"`
	Method      string          `json:"method"`
	PriceUSD    decimal.Decimal `json:"priceUsd"`
	Description string          `json:"description"`
}

// PaymentRequest identifies one billable opportunity. It is immutable after
// creation; all mutable lifecycle state lives on the PaymentRecord.
type PaymentRequest struct {
	RequestID string          `json:"requestId"`
	Path      string          `json:"path"`
	Method    string          `json:"method"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
	Chain     string          `json:"chain"`
	Recipient string          `json:"recipient"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Expired reports whether the request's payment window has closed at now.
func (r *PaymentRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// CachedResponse is the protected handler's output, captured once at
// confirmation and replayed verbatim on every later status read.
type CachedResponse struct {
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

// PaymentRecord is the stored unit: one request plus its mutable status.
// Records are persisted and updated atomically per request id.
type PaymentRecord struct {
	Request PaymentRequest `json:"request"`

	Status Status `json:"status"`

	// TxReference is the chain-specific transaction identifier supplied by
	// the client. Immutable once set; a different reference for the same
	// request is rejected as a conflict.
	TxReference string `json:"txReference,omitempty"`

	// AmountToken is the quoted native-token amount, fixed when the payment
	// document is first built so polling clients see a stable quote and the
	// verifier has a fixed expectation.
	AmountToken decimal.Decimal `json:"amountToken"`

	Confirmations uint64 `json:"confirmations"`

	// Response is non-nil iff Status is CONFIRMED and the protected handler
	// has run.
	Response *CachedResponse `json:"response,omitempty"`

	// ConsumedAt records when the response was cached, for retention-based
	// eviction.
	ConsumedAt time.Time `json:"consumedAt,omitempty"`
}

// PaymentDocument is the machine-readable "payment required" payload. It is
// self-sufficient: a client holding only this document can pay and complete
// the flow.
type PaymentDocument struct {
	Amount           decimal.Decimal `json:"amount"`
	AmountToken      decimal.Decimal `json:"amountToken"`
	Currency         string          `json:"currency"`
	Chain            string          `json:"chain"`
	RecipientAddress string          `json:"recipientAddress"`
	RequestID        string          `json:"requestId"`
	Instructions     string          `json:"instructions"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	Scheme           string          `json:"scheme"`
}

// PaymentRequiredResponse is the HTTP 402 body wrapping a payment document.
type PaymentRequiredResponse struct {
	X402Version int               `json:"x402Version"`
	Accepts     []PaymentDocument `json:"accepts"`
	Error       string            `json:"error,omitempty"`
}

// PendingResponse is the HTTP 202 body returned while a payment is still
// working toward its confirmation threshold.
type PendingResponse struct {
	Status        Status `json:"status"`
	Confirmations uint64 `json:"confirmations"`
}
