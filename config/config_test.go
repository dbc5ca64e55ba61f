package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/x402/types"
)

const validYAML = `
chains:
  - id: base
    name: Base
    family: evm
    rpc_url: https://mainnet.base.org
    symbol: ETH
    decimals: 18
    recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
    min_confirmations: 2
  - id: solana-mainnet
    name: Solana
    family: solana
    rpc_url: https://api.mainnet-beta.solana.com
    symbol: SOL
    decimals: 9
    recipient: "4Nd1mY5jkYtfRX6ExGbeqjnRjMkKLTSftyhsZZz2bfpb"
pricing:
  - pattern: /api/tx/:hash
    method: get
    price_usd: "0.01"
    description: transaction detail
  - pattern: /api/export
    method: POST
    price_usd: "0.50"
log:
  level: debug
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	require.Len(t, cfg.Chains, 2)
	assert.Equal(t, "base", cfg.Chains[0].ID)
	assert.Equal(t, types.ChainFamilyEVM, cfg.Chains[0].Family)
	assert.Equal(t, int32(9), cfg.Chains[1].Decimals)
	assert.Equal(t, "debug", cfg.Log.Level)

	entries := cfg.PricingEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "GET", entries[0].Method) // normalized
	assert.Equal(t, "0.01", entries[0].PriceUSD.String())
}

func TestParseRejectsEmptyCatalogue(t *testing.T) {
	_, err := Parse([]byte("chains: []\npricing: []\n"))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigError, types.CodeOf(err))
}

func TestParseRejectsBadPrice(t *testing.T) {
	bad := []string{
		`price_usd: "free"`,
		`price_usd: "0"`,
		`price_usd: "-0.01"`,
	}
	for _, price := range bad {
		yaml := `
chains:
  - id: base
    name: Base
    family: evm
    rpc_url: https://mainnet.base.org
    symbol: ETH
    decimals: 18
    recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
pricing:
  - pattern: /api/tx/:hash
    method: GET
    ` + price + "\n"
		_, err := Parse([]byte(yaml))
		require.Error(t, err, price)
		assert.Equal(t, types.ErrConfigError, types.CodeOf(err))
	}
}

func TestParseRejectsDuplicateChain(t *testing.T) {
	yaml := `
chains:
  - id: base
    name: Base
    family: evm
    rpc_url: https://mainnet.base.org
    symbol: ETH
    decimals: 18
    recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
  - id: base
    name: Base Again
    family: evm
    rpc_url: https://mainnet.base.org
    symbol: ETH
    decimals: 18
    recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
pricing:
  - pattern: /api/tx/:hash
    method: GET
    price_usd: "0.01"
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigError, types.CodeOf(err))
}

func TestParseRejectsRelativePattern(t *testing.T) {
	yaml := `
chains:
  - id: base
    name: Base
    family: evm
    rpc_url: https://mainnet.base.org
    symbol: ETH
    decimals: 18
    recipient: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
pricing:
  - pattern: api/tx
    method: GET
    price_usd: "0.01"
`
	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Equal(t, types.ErrConfigError, types.CodeOf(err))
}

func TestEnvOverrideRPCURL(t *testing.T) {
	t.Setenv("X402_RPC_URL_SOLANA_MAINNET", "https://private.rpc.example/solana")

	cfg, err := Parse([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "https://private.rpc.example/solana", cfg.Chains[1].RPCURL)
	assert.Equal(t, "https://mainnet.base.org", cfg.Chains[0].RPCURL)
}
