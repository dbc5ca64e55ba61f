// Package pricing maps concrete request paths to catalogue prices.
package pricing

import (
	"strings"

	"github.com/ledgerlens/x402/types"
)

// Resolver matches request paths against the pricing catalogue. Patterns
// use ":name" placeholder segments, e.g. "/address/:hash" matches
// "/address/0xabc". Matching is deterministic: the first catalogue entry
// whose pattern and method both match wins.
type Resolver struct {
	entries []types.EndpointPricing
}

// NewResolver builds a resolver over the catalogue in listed order.
func NewResolver(entries []types.EndpointPricing) *Resolver {
	return &Resolver{entries: entries}
}

// Resolve returns the pricing entry for a concrete path and method. The
// second return is false when no endpoint is priced, in which case the
// gateway serves the call unprotected.
func (r *Resolver) Resolve(path, method string) (types.EndpointPricing, bool) {
	for _, e := range r.entries {
		if !strings.EqualFold(e.Method, method) {
			continue
		}
		if matchPattern(e.Pattern, path) {
			return e, true
		}
	}
	return types.EndpointPricing{}, false
}

// Entries returns the catalogue in listed order.
func (r *Resolver) Entries() []types.EndpointPricing {
	out := make([]types.EndpointPricing, len(r.entries))
	copy(out, r.entries)
	return out
}

func matchPattern(pattern, path string) bool {
	ps := splitPath(pattern)
	cs := splitPath(path)
	if len(ps) != len(cs) {
		return false
	}
	for i, seg := range ps {
		if strings.HasPrefix(seg, ":") && seg != ":" {
			if cs[i] == "" {
				return false
			}
			continue
		}
		if seg != cs[i] {
			return false
		}
	}
	return true
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
