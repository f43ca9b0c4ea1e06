package cache

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultTTL applies when Set is called without a ttl.
const DefaultTTL = 10 * time.Minute

// LRUProvider is an in-process Provider bounded by entry count. Entries expire after the
// provider-wide TTL; a shorter per-call ttl is honoured on read.
type LRUProvider struct {
	entries *expirable.LRU[string, entry]
	now     func() time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewLRUProvider returns a provider holding at most size entries for up to ttl.
func NewLRUProvider(size int, ttl time.Duration) *LRUProvider {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LRUProvider{
		entries: expirable.NewLRU[string, entry](size, nil, ttl),
		now:     time.Now,
	}
}

// Get returns a copy of the cached bytes or ErrCacheMiss.
func (p *LRUProvider) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := p.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && p.now().After(e.expiresAt) {
		p.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return slices.Clone(e.value), nil
}

// Set stores a copy of value.
func (p *LRUProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: slices.Clone(value)}
	if ttl > 0 {
		e.expiresAt = p.now().Add(ttl)
	}
	p.entries.Add(key, e)
	return nil
}

// Del evicts key.
func (p *LRUProvider) Del(_ context.Context, key string) error {
	p.entries.Remove(key)
	return nil
}

// Len reports the number of live entries.
func (p *LRUProvider) Len() int { return p.entries.Len() }

// Close drops every entry.
func (p *LRUProvider) Close() error {
	p.entries.Purge()
	return nil
}
