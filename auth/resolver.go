package auth

import (
	"fmt"
	"sync"

	"github.com/goliatone/go-marketplace/core"
)

// Resolver maps auth methods to strategies. It is safe for concurrent use.
type Resolver struct {
	mu         sync.RWMutex
	strategies map[core.AuthMethod]core.AuthStrategy
}

func NewResolver(strategies ...core.AuthStrategy) *Resolver {
	resolver := &Resolver{strategies: map[core.AuthMethod]core.AuthStrategy{}}
	for _, strategy := range strategies {
		_ = resolver.Register(strategy)
	}
	return resolver
}

// NewDefaultResolver registers one strategy per supported auth method.
func NewDefaultResolver(cfg core.Config) *Resolver {
	return NewResolver(
		NewAPIKeyAuth(cfg.Gateway.APIKeyHeader),
		NewOAuth2Auth(),
		NewBasicAuth(),
		NewSignedTokenAuth(cfg.Signing),
	)
}

func (r *Resolver) Register(strategy core.AuthStrategy) error {
	if r == nil {
		return fmt.Errorf("auth: resolver is nil")
	}
	if strategy == nil {
		return fmt.Errorf("auth: strategy is required")
	}
	method := strategy.Method().Normalize()
	if method == "" {
		return fmt.Errorf("auth: strategy method is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.strategies == nil {
		r.strategies = map[core.AuthMethod]core.AuthStrategy{}
	}
	r.strategies[method] = strategy
	return nil
}

func (r *Resolver) Resolve(method core.AuthMethod) (core.AuthStrategy, error) {
	normalized := method.Normalize()
	if r != nil {
		r.mu.RLock()
		strategy, ok := r.strategies[normalized]
		r.mu.RUnlock()
		if ok {
			return strategy, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnsupportedAuthMethod, normalized)
}

var _ core.AuthStrategyResolver = (*Resolver)(nil)
