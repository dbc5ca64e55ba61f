package types

// Transport metadata header names. The 402 response duplicates the payment
// document into these headers for clients that cannot read the body; the
// request side carries the correlation id and transaction reference.
const (
	HeaderRequestID   = "X-Payment-Request-Id"
	HeaderTxReference = "X-Payment-Tx-Ref"
	HeaderChain       = "X-Payment-Chain"

	HeaderAmount      = "X-Payment-Amount"
	HeaderAmountToken = "X-Payment-Amount-Token"
	HeaderCurrency    = "X-Payment-Currency"
	HeaderRecipient   = "X-Payment-Recipient"
	HeaderTimeoutSecs = "X-Payment-Timeout-Secs"
	HeaderScheme      = "X-Payment-Scheme"
)
