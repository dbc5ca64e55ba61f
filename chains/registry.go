// Package chains holds the static catalogue of supported chains.
package chains

import (
	"strings"

	"github.com/ledgerlens/x402/types"
)

// Registry is the read-only chain catalogue. The first configured chain is
// the default offered to clients that express no preference.
type Registry struct {
	order []string
	byID  map[string]types.ChainConfig
}

// NewRegistry builds a registry from catalogue entries. At least one entry
// is required and ids must be unique.
func NewRegistry(configs []types.ChainConfig) (*Registry, error) {
	if len(configs) == 0 {
		return nil, types.NewError(types.ErrConfigError, "chain catalogue is empty")
	}

	r := &Registry{byID: make(map[string]types.ChainConfig, len(configs))}
	for _, cfg := range configs {
		if _, dup := r.byID[cfg.ID]; dup {
			return nil, types.NewError(types.ErrConfigError, "duplicate chain id %q", cfg.ID)
		}
		if cfg.MinConfirmations == 0 {
			cfg.MinConfirmations = 1
		}
		r.byID[cfg.ID] = cfg
		r.order = append(r.order, cfg.ID)
	}
	return r, nil
}

// Lookup returns the catalogue entry for a chain id.
func (r *Registry) Lookup(id string) (types.ChainConfig, error) {
	cfg, ok := r.byID[id]
	if !ok {
		return types.ChainConfig{}, types.NewError(types.ErrUnsupportedChain, "unsupported chain: %s", id)
	}
	return cfg, nil
}

// Default returns the first configured chain.
func (r *Registry) Default() types.ChainConfig {
	return r.byID[r.order[0]]
}

// IDs returns chain ids in catalogue order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.order))
	copy(ids, r.order)
	return ids
}

// All returns the catalogue entries in configured order.
func (r *Registry) All() []types.ChainConfig {
	out := make([]types.ChainConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// ExplorerTxURL renders the chain's explorer link for a transaction
// reference, or "" if the chain has no template.
func (r *Registry) ExplorerTxURL(id, txRef string) string {
	cfg, ok := r.byID[id]
	if !ok || cfg.ExplorerTxURL == "" {
		return ""
	}
	return strings.ReplaceAll(cfg.ExplorerTxURL, "{tx}", txRef)
}
