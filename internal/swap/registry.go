package swap

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// Registry maps chain ids to their provider and chain description. It is
// populated once at startup.
type Registry struct {
	mu        sync.RWMutex
	providers map[int64]Provider
	chains    map[int64]domain.Chain
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[int64]Provider),
		chains:    make(map[int64]domain.Chain),
	}
}

// Register adds a provider for chain. Registering the same chain twice is an
// error.
func (r *Registry) Register(chain domain.Chain, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chains[chain.ID]; exists {
		return fmt.Errorf("swap: chain %d already registered", chain.ID)
	}
	if p.ChainID() != chain.ID {
		return fmt.Errorf("swap: provider for chain %d registered as %d", p.ChainID(), chain.ID)
	}
	r.providers[chain.ID] = p
	r.chains[chain.ID] = chain
	return nil
}

// AddChain records a chain without a provider, for modes that never swap.
// Provider lookups for it fail with domain.ErrUnsupportedChain.
func (r *Registry) AddChain(chain domain.Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chains[chain.ID]; exists {
		return fmt.Errorf("swap: chain %d already registered", chain.ID)
	}
	r.chains[chain.ID] = chain
	return nil
}

// Provider returns the provider for chainID or domain.ErrUnsupportedChain.
func (r *Registry) Provider(chainID int64) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[chainID]
	if !ok {
		return nil, fmt.Errorf("swap: chain %d: %w", chainID, domain.ErrUnsupportedChain)
	}
	return p, nil
}

// Chain returns the chain description for chainID.
func (r *Registry) Chain(chainID int64) (domain.Chain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.chains[chainID]
	if !ok {
		return domain.Chain{}, fmt.Errorf("swap: chain %d: %w", chainID, domain.ErrUnsupportedChain)
	}
	return c, nil
}

// ChainIDs lists registered chains in ascending order.
func (r *Registry) ChainIDs() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int64, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
