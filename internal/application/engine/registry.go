package engine

import (
	"sort"
	"sync"

	"github.com/alejandrodnm/polyhedge/internal/domain"
)

type tokenRef struct {
	slug    string
	outcome domain.Outcome
}

// Registry holds the MarketContext of every active market, indexed by slug
// and by outcome token.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]*domain.MarketContext
	tokens  map[string]tokenRef
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		markets: make(map[string]*domain.MarketContext),
		tokens:  make(map[string]tokenRef),
	}
}

// Get resolves a market by slug.
func (r *Registry) Get(slug string) (*domain.MarketContext, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mc, ok := r.markets[slug]
	return mc, ok
}

// Lookup resolves the market and side a token belongs to.
func (r *Registry) Lookup(tokenID string) (*domain.MarketContext, domain.Outcome, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.tokens[tokenID]
	if !ok {
		return nil, "", false
	}
	return r.markets[ref.slug], ref.outcome, true
}

// Register adds a market. Returns false if the slug is already registered.
func (r *Registry) Register(mc *domain.MarketContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	slug := mc.Market.Slug
	if _, ok := r.markets[slug]; ok {
		return false
	}
	r.markets[slug] = mc
	r.tokens[mc.Market.UpTokenID] = tokenRef{slug: slug, outcome: domain.OutcomeUp}
	r.tokens[mc.Market.DownTokenID] = tokenRef{slug: slug, outcome: domain.OutcomeDown}
	return true
}

// Deregister removes a market and returns it.
func (r *Registry) Deregister(slug string) (*domain.MarketContext, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mc, ok := r.markets[slug]
	if !ok {
		return nil, false
	}
	delete(r.markets, slug)
	delete(r.tokens, mc.Market.UpTokenID)
	delete(r.tokens, mc.Market.DownTokenID)
	return mc, true
}

// All returns the registered markets sorted by slug.
func (r *Registry) All() []*domain.MarketContext {
	r.mu.RLock()
	out := make([]*domain.MarketContext, 0, len(r.markets))
	for _, mc := range r.markets {
		out = append(out, mc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Market.Slug < out[j].Market.Slug })
	return out
}

// Tokens returns every subscribed token id, sorted.
func (r *Registry) Tokens() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.tokens))
	for id := range r.tokens {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.markets)
}
