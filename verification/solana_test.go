package verification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/x402/types"
)

func solChain() types.ChainConfig {
	return types.ChainConfig{
		ID:               "solana-mainnet",
		Name:             "Solana",
		Family:           types.ChainFamilySolana,
		Symbol:           "SOL",
		Decimals:         9,
		Recipient:        solRecipient().String(),
		MinConfirmations: 1,
	}
}

func solRecipient() solana.PublicKey {
	return solana.PublicKeyFromBytes(bytes.Repeat([]byte{7}, 32))
}

func solPayer() solana.PublicKey {
	return solana.PublicKeyFromBytes(bytes.Repeat([]byte{3}, 32))
}

type fakeSolanaBackend struct {
	txRes    *rpc.GetTransactionResult
	txErr    error
	statuses *rpc.GetSignatureStatusesResult
	statErr  error
}

func (f *fakeSolanaBackend) GetTransaction(context.Context, solana.Signature, *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return f.txRes, f.txErr
}

func (f *fakeSolanaBackend) GetSignatureStatuses(context.Context, bool, ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return f.statuses, f.statErr
}

func newSolanaWithBackend(b solanaBackend) *SolanaVerifier {
	v := NewSolanaVerifier()
	v.addBackend("solana-mainnet", b)
	return v
}

// validSig is the base58 form of 64 zero bytes.
var validSig = strings.Repeat("1", 64)

func transferMeta(preLamports, postLamports uint64) *rpc.TransactionMeta {
	return &rpc.TransactionMeta{
		PreBalances:  []uint64{500_000_000, preLamports},
		PostBalances: []uint64{400_000_000, postLamports},
	}
}

func participantKeys() []solana.PublicKey {
	return []solana.PublicKey{solPayer(), solRecipient()}
}

func TestAssessTransferValid(t *testing.T) {
	meta := transferMeta(0, 1_000_000_000)
	res := assessTransfer(meta, participantKeys(), solRecipient(), decimal.NewFromInt(1), 9)
	assert.Nil(t, res)
}

func TestAssessTransferToleranceBoundary(t *testing.T) {
	expected := decimal.NewFromInt(1)

	res := assessTransfer(transferMeta(0, 990_000_000), participantKeys(), solRecipient(), expected, 9)
	assert.Nil(t, res)

	res = assessTransfer(transferMeta(0, 980_000_000), participantKeys(), solRecipient(), expected, 9)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestAssessTransferFailedOnChain(t *testing.T) {
	meta := transferMeta(0, 1_000_000_000)
	meta.Err = map[string]any{"InstructionError": []any{0, "Custom"}}

	res := assessTransfer(meta, participantKeys(), solRecipient(), decimal.NewFromInt(1), 9)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestAssessTransferRecipientNotParticipant(t *testing.T) {
	keys := []solana.PublicKey{solPayer()}
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{500_000_000},
		PostBalances: []uint64{400_000_000},
	}

	res := assessTransfer(meta, keys, solRecipient(), decimal.NewFromInt(1), 9)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestAssessTransferMissingBalanceData(t *testing.T) {
	meta := &rpc.TransactionMeta{
		PreBalances:  []uint64{500_000_000},
		PostBalances: []uint64{400_000_000},
	}

	res := assessTransfer(meta, participantKeys(), solRecipient(), decimal.NewFromInt(1), 9)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestAssessTransferNoFundsReceived(t *testing.T) {
	res := assessTransfer(transferMeta(1_000_000_000, 1_000_000_000), participantKeys(), solRecipient(), decimal.NewFromInt(1), 9)
	require.NotNil(t, res)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestConfirmationSatisfied(t *testing.T) {
	count := func(n uint64) *uint64 { return &n }

	conf, ok := confirmationSatisfied(&rpc.SignatureStatusesResult{Confirmations: count(3)}, 2)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), conf)

	conf, ok = confirmationSatisfied(&rpc.SignatureStatusesResult{Confirmations: count(1)}, 2)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), conf)

	// Finalized satisfies any threshold even when the count is gone.
	_, ok = confirmationSatisfied(&rpc.SignatureStatusesResult{
		ConfirmationStatus: rpc.ConfirmationStatusFinalized,
	}, 32)
	assert.True(t, ok)
}

func TestSolanaVerifyMalformedSignature(t *testing.T) {
	v := newSolanaWithBackend(&fakeSolanaBackend{})

	res, err := v.Verify(context.Background(), solChain(), "not-base58!!", decimal.NewFromInt(1), solChain().Recipient)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInvalid, res.Outcome)
}

func TestSolanaVerifyNotFound(t *testing.T) {
	v := newSolanaWithBackend(&fakeSolanaBackend{txErr: rpc.ErrNotFound})

	res, err := v.Verify(context.Background(), solChain(), validSig, decimal.NewFromInt(1), solChain().Recipient)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestSolanaVerifyIncompleteResultIsNotFound(t *testing.T) {
	v := newSolanaWithBackend(&fakeSolanaBackend{txRes: &rpc.GetTransactionResult{}})

	res, err := v.Verify(context.Background(), solChain(), validSig, decimal.NewFromInt(1), solChain().Recipient)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, res.Outcome)
}

func TestSolanaVerifyTransportError(t *testing.T) {
	v := newSolanaWithBackend(&fakeSolanaBackend{txErr: errors.New("connection reset")})

	_, err := v.Verify(context.Background(), solChain(), validSig, decimal.NewFromInt(1), solChain().Recipient)
	require.Error(t, err)
	assert.Equal(t, types.ErrRPCUnavailable, types.CodeOf(err))
}

func TestSolanaVerifyUnknownChain(t *testing.T) {
	v := NewSolanaVerifier()
	_, err := v.Verify(context.Background(), solChain(), validSig, decimal.NewFromInt(1), solChain().Recipient)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedChain, types.CodeOf(err))
}
