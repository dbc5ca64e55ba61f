package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"

	"github.com/ledgerlens/x402/types"
)

// ethBackend is the slice of ethclient.Client the verifier needs. Narrowed
// so tests can substitute a fake chain.
type ethBackend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type closer interface {
	Close()
}

// EVMVerifier verifies native-value payments on account-based chains that
// share Ethereum's transaction/receipt RPC shape. One long-lived RPC client
// per chain, shared across concurrent verifications.
type EVMVerifier struct {
	backends map[string]ethBackend
}

// NewEVMVerifier returns a verifier with no chains attached.
func NewEVMVerifier() *EVMVerifier {
	return &EVMVerifier{backends: make(map[string]ethBackend)}
}

// AddChain dials the chain's RPC endpoint and attaches it to the verifier.
func (v *EVMVerifier) AddChain(chain types.ChainConfig) error {
	if chain.Family != types.ChainFamilyEVM {
		return types.NewError(types.ErrUnsupportedChain, "chain %s is not an EVM chain", chain.ID)
	}
	client, err := ethclient.Dial(chain.RPCURL)
	if err != nil {
		return fmt.Errorf("evm rpc dial %s: %w", chain.ID, err)
	}
	v.backends[chain.ID] = client
	return nil
}

// addBackend attaches a pre-built backend. Used by tests.
func (v *EVMVerifier) addBackend(chainID string, b ethBackend) {
	v.backends[chainID] = b
}

// Verify checks a native transfer: the transaction and its receipt must be
// visible, the destination must match the recipient (case-insensitive), the
// value must meet the expected amount within tolerance, and the receipt
// must sit at least MinConfirmations blocks below the chain head.
func (v *EVMVerifier) Verify(
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

	hash := common.HexToHash(txRef)

	tx, pending, err := b.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Result{Outcome: OutcomeNotFound, Reason: "transaction not found"}, nil
		}
		return nil, types.NewError(types.ErrRPCUnavailable, "fetch transaction %s: %v", txRef, err)
	}
	if pending {
		return &Result{Outcome: OutcomeNotFound, Reason: "transaction not yet mined"}, nil
	}

	to := tx.To()
	if to == nil {
		return &Result{Outcome: OutcomeInvalid, Reason: "transaction has no recipient"}, nil
	}
	if !strings.EqualFold(to.Hex(), recipient) {
		return &Result{Outcome: OutcomeInvalid, Reason: "recipient mismatch"}, nil
	}

	observed := decimal.NewFromBigInt(tx.Value(), -chain.Decimals)
	if !meetsExpected(observed, expectedToken) {
		return &Result{
			Outcome: OutcomeInvalid,
			Reason:  fmt.Sprintf("amount %s below expected %s", observed, expectedToken),
		}, nil
	}

	receipt, err := b.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Result{Outcome: OutcomeNotFound, Reason: "receipt not found"}, nil
		}
		return nil, types.NewError(types.ErrRPCUnavailable, "fetch receipt %s: %v", txRef, err)
	}
	if receipt.Status == ethtypes.ReceiptStatusFailed {
		return &Result{Outcome: OutcomeInvalid, Reason: "transaction reverted"}, nil
	}

	head, err := b.BlockNumber(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrRPCUnavailable, "fetch chain head: %v", err)
	}

	mined := receipt.BlockNumber.Uint64()
	var confirmations uint64
	if head > mined {
		confirmations = head - mined
	}
	if confirmations < chain.MinConfirmations {
		return &Result{Outcome: OutcomePending, Confirmations: confirmations}, nil
	}

	return &Result{Outcome: OutcomeValid, Confirmations: confirmations}, nil
}

// Close closes every attached RPC client.
func (v *EVMVerifier) Close() {
	for _, b := range v.backends {
		if c, ok := b.(closer); ok {
			c.Close()
		}
	}
}

var _ Verifier = (*EVMVerifier)(nil)
