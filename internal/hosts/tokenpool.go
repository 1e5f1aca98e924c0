// internal/hosts/tokenpool.go
package hosts

import (
	"math/rand"
	"sync"

	custom_errors "forge-issues/internal/errors"
)

// TokenPool is a mutex-guarded set of API tokens. Selection is random per
// call (not round-robin) to spread rate limits; tokens observed dead during a
// liveness probe are removed. Best-effort only, not a quota scheduler.
type TokenPool struct {
	mu     sync.Mutex
	tokens []string
	index  map[string]int
}

// NewTokenPool seeds a pool, dropping duplicates and empty strings.
func NewTokenPool(tokens []string) *TokenPool {
	p := &TokenPool{index: make(map[string]int)}
	p.Add(tokens...)
	return p
}

// Random returns a randomly selected token.
func (p *TokenPool) Random() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.tokens) == 0 {
		return "", custom_errors.ErrNoTokens
	}
	return p.tokens[rand.Intn(len(p.tokens))], nil
}

// Add inserts tokens not already present.
func (p *TokenPool) Add(tokens ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := p.index[t]; ok {
			continue
		}
		p.index[t] = len(p.tokens)
		p.tokens = append(p.tokens, t)
	}
}

// Remove evicts a token, e.g. after an unauthorized/suspended probe.
func (p *TokenPool) Remove(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, ok := p.index[token]
	if !ok {
		return
	}
	last := len(p.tokens) - 1
	p.tokens[i] = p.tokens[last]
	p.index[p.tokens[i]] = i
	p.tokens = p.tokens[:last]
	delete(p.index, token)
}

// List returns a snapshot of the pool.
func (p *TokenPool) List() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.tokens))
	copy(out, p.tokens)
	return out
}

// Len returns the current pool size.
func (p *TokenPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}
