// Package config loads the gateway's chain and pricing catalogues from
// YAML, applies environment overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ledgerlens/x402/types"
)

var validate = validator.New()

// Config is the full gateway catalogue.
type Config struct {
	Chains  []types.ChainConfig `yaml:"chains" validate:"min=1,dive"`
	Pricing []PricingEntry      `yaml:"pricing" validate:"min=1,dive"`
	Log     LogConfig           `yaml:"log"`
}

// PricingEntry is the YAML shape of one priced endpoint. The USD price is
// carried as a string so the decimal survives parsing exactly.
type PricingEntry struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Method      string `yaml:"method" validate:"required"`
	PriceUSD    string `yaml:"price_usd" validate:"required"`
	Description string `yaml:"description"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads and validates the catalogue at path. RPC URLs may be
// overridden per chain via X402_RPC_URL_<CHAIN-ID> environment variables
// (dashes become underscores) so deployments can inject authenticated
// endpoints without editing the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a catalogue from raw YAML.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, types.NewError(types.ErrConfigError, "parse config: %v", err)
	}

	applyEnvOverrides(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, types.NewError(types.ErrConfigError, "validate config: %v", err)
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	for i, chain := range cfg.Chains {
		key := "X402_RPC_URL_" + strings.ToUpper(strings.ReplaceAll(chain.ID, "-", "_"))
		if url := os.Getenv(key); url != "" {
			cfg.Chains[i].RPCURL = url
		}
	}
}

// check covers the constraints validator tags cannot express.
func (c *Config) check() error {
	seen := make(map[string]bool, len(c.Chains))
	for _, chain := range c.Chains {
		if seen[chain.ID] {
			return types.NewError(types.ErrConfigError, "duplicate chain id %q", chain.ID)
		}
		seen[chain.ID] = true
	}

	for _, entry := range c.Pricing {
		price, err := decimal.NewFromString(entry.PriceUSD)
		if err != nil {
			return types.NewError(types.ErrConfigError,
				"pricing entry %s %s: bad price %q", entry.Method, entry.Pattern, entry.PriceUSD)
		}
		if !price.IsPositive() {
			return types.NewError(types.ErrConfigError,
				"pricing entry %s %s: price must be positive", entry.Method, entry.Pattern)
		}
		if !strings.HasPrefix(entry.Pattern, "/") {
			return types.NewError(types.ErrConfigError,
				"pricing entry %s %s: pattern must start with /", entry.Method, entry.Pattern)
		}
	}
	return nil
}

// PricingEntries converts the YAML pricing table to catalogue entries in
// listed order; order is the ambiguity tie-break at resolution time.
func (c *Config) PricingEntries() []types.EndpointPricing {
	out := make([]types.EndpointPricing, 0, len(c.Pricing))
	for _, entry := range c.Pricing {
		price, _ := decimal.NewFromString(entry.PriceUSD)
		out = append(out, types.EndpointPricing{
			Pattern:     entry.Pattern,
			Method:      strings.ToUpper(entry.Method),
			PriceUSD:    price,
			Description: entry.Description,
		})
	}
	return out
}
