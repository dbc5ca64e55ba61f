package types

import (
	"errors"
	"fmt"
)

// Error is the typed protocol error returned across package boundaries.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

// NewError builds an Error with a formatted message.
func NewError(code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the protocol error code from err, or "" if err is not an
// x402 error.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Protocol error codes.
const (
	// ErrPricingNotFound: the endpoint has no catalogue entry. Not an error
	// to the caller; the gateway serves such endpoints unprotected.
	ErrPricingNotFound = "PRICING_NOT_FOUND"

	// ErrInvalidRequestID: unknown or already-swept request id.
	ErrInvalidRequestID = "INVALID_REQUEST_ID"

	// ErrRequestExpired: the payment window closed. Terminal; the caller
	// must create a new request.
	ErrRequestExpired = "REQUEST_EXPIRED"

	// ErrVerificationInvalid: wrong recipient, insufficient amount, or
	// on-chain failure. Terminal for the request.
	ErrVerificationInvalid = "VERIFICATION_INVALID"

	// ErrRPCUnavailable: the chain RPC was unreachable or timed out.
	// Retryable; never conflated with an invalid payment.
	ErrRPCUnavailable = "RPC_UNAVAILABLE"

	// ErrTxReferenceConflict: a second, different transaction was supplied
	// for a request that already recorded one.
	ErrTxReferenceConflict = "TX_REFERENCE_CONFLICT"

	// ErrUnsupportedChain: the chain id has no catalogue entry or no
	// configured verifier.
	ErrUnsupportedChain = "UNSUPPORTED_CHAIN"

	// ErrConfigError: invalid catalogue or startup configuration.
	ErrConfigError = "CONFIG_ERROR"
)
