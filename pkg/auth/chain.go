package auth

import (
	"context"
	"errors"
	"net/http"
)

// ChainResolver tries resolvers in order; the first identity wins.
// ErrNoSession falls through to the next resolver. Any other error is kept and
// returned only if no resolver produced an identity.
type ChainResolver struct {
	resolvers []SessionResolver
}

// NewChainResolver creates a chain, skipping nil resolvers
func NewChainResolver(resolvers ...SessionResolver) *ChainResolver {
	c := &ChainResolver{}
	for _, r := range resolvers {
		if r != nil {
			c.resolvers = append(c.resolvers, r)
		}
	}
	return c
}

// GetSession implements SessionResolver
func (c *ChainResolver) GetSession(ctx context.Context, headers http.Header) (*Identity, error) {
	var firstErr error
	for _, r := range c.resolvers {
		id, err := r.GetSession(ctx, headers)
		if err == nil && id != nil {
			return id, nil
		}
		if err != nil && !errors.Is(err, ErrNoSession) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNoSession
}
