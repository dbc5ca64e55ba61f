package verification

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	"github.com/ledgerlens/x402/types"
)

// solanaBackend is the slice of rpc.Client the verifier needs, narrowed so
// tests can substitute a fake chain.
type solanaBackend interface {
	GetTransaction(ctx context.Context, txSig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaVerifier verifies native SOL payments by balance delta: the
// recipient must be a direct participant of the transaction and its
// post-balance minus pre-balance must meet the expected amount.
type SolanaVerifier struct {
	backends map[string]solanaBackend
}

// NewSolanaVerifier returns a verifier with no chains attached.
func NewSolanaVerifier() *SolanaVerifier {
	return &SolanaVerifier{backends: make(map[string]solanaBackend)}
}

// AddChain attaches an RPC client for the chain.
func (v *SolanaVerifier) AddChain(chain types.ChainConfig) error {
	if chain.Family != types.ChainFamilySolana {
		return types.NewError(types.ErrUnsupportedChain, "chain %s is not a Solana chain", chain.ID)
	}
	v.backends[chain.ID] = rpc.New(chain.RPCURL)
	return nil
}

// addBackend attaches a pre-built backend. Used by tests.
func (v *SolanaVerifier) addBackend(chainID string, b solanaBackend) {
	v.backends[chainID] = b
}

// Verify fetches the transaction by signature and checks the recipient's
// balance delta and confirmation status. A transaction marked failed
// on-chain is invalid regardless of amounts; an explicit finalized flag
// satisfies the confirmation threshold even when the numeric count is
// unavailable.
func (v *SolanaVerifier) Verify(
	ctx context.Context,
	chain types.ChainConfig,
	txRef string,
	expectedToken decimal.Decimal,
	recipient string,
) (*Result, error) {
	b, ok := v.backends[chain.ID]
	if !ok {
		return nil, types.NewError(types.ErrUnsupportedChain, "no RPC client for chain %s", chain.ID)
	}

	sig, err := solana.SignatureFromBase58(txRef)
	if err != nil {
		return &Result{Outcome: OutcomeInvalid, Reason: "malformed transaction signature"}, nil
	}

	recipientKey, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return &Result{Outcome: OutcomeInvalid, Reason: "malformed recipient address"}, nil
	}

	res, err := b.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return &Result{Outcome: OutcomeNotFound, Reason: "transaction not found"}, nil
		}
		return nil, types.NewError(types.ErrRPCUnavailable, "fetch transaction %s: %v", txRef, err)
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return &Result{Outcome: OutcomeNotFound, Reason: "transaction not available yet"}, nil
	}

	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, types.NewError(types.ErrRPCUnavailable, "decode transaction %s: %v", txRef, err)
	}

	if bad := assessTransfer(res.Meta, tx.Message.AccountKeys, recipientKey, expectedToken, chain.Decimals); bad != nil {
		return bad, nil
	}

	statuses, err := b.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return nil, types.NewError(types.ErrRPCUnavailable, "fetch signature status: %v", err)
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return &Result{Outcome: OutcomePending, Confirmations: 0}, nil
	}

	confirmations, satisfied := confirmationSatisfied(statuses.Value[0], chain.MinConfirmations)
	if !satisfied {
		return &Result{Outcome: OutcomePending, Confirmations: confirmations}, nil
	}
	return &Result{Outcome: OutcomeValid, Confirmations: confirmations}, nil
}

// assessTransfer validates the balance-delta portion of a Solana payment.
// It returns a terminal Result on failure and nil when the transfer is
// acceptable. meta.Err set means the transaction failed on-chain; the
// recipient must appear among the transaction's touched accounts, not be
// inferred from inner instructions.
func assessTransfer(
	meta *rpc.TransactionMeta,
	accountKeys []solana.PublicKey,
	recipient solana.PublicKey,
	expectedToken decimal.Decimal,
	decimals int32,
) *Result {
	if meta.Err != nil {
		return &Result{Outcome: OutcomeInvalid, Reason: "transaction failed on-chain"}
	}

	idx := -1
	for i, key := range accountKeys {
		if key.Equals(recipient) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &Result{Outcome: OutcomeInvalid, Reason: "recipient not a participant of the transaction"}
	}
	if idx >= len(meta.PreBalances) || idx >= len(meta.PostBalances) {
		return &Result{Outcome: OutcomeInvalid, Reason: "balance data missing for recipient"}
	}

	delta := int64(meta.PostBalances[idx]) - int64(meta.PreBalances[idx])
	if delta <= 0 {
		return &Result{Outcome: OutcomeInvalid, Reason: "recipient received no funds"}
	}

	observed := decimal.New(delta, -decimals)
	if !meetsExpected(observed, expectedToken) {
		return &Result{
			Outcome: OutcomeInvalid,
			Reason:  fmt.Sprintf("amount %s below expected %s", observed, expectedToken),
		}
	}
	return nil
}

// confirmationSatisfied reports the observed confirmation count and whether
// the threshold is met. The RPC omits the numeric count once a transaction
// is rooted, so a finalized status satisfies any threshold.
func confirmationSatisfied(status *rpc.SignatureStatusesResult, minConfirmations uint64) (uint64, bool) {
	var confirmations uint64
	if status.Confirmations != nil {
		confirmations = *status.Confirmations
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return confirmations, true
	}
	return confirmations, confirmations >= minConfirmations
}

// Close is a no-op; Solana RPC clients hold no persistent connection.
func (v *SolanaVerifier) Close() {}

var _ Verifier = (*SolanaVerifier)(nil)
