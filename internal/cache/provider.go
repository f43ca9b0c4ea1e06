// Package cache keeps versioned snapshots of derived views, such as incident reports. Keys
// must change whenever the source changes; entries are never invalidated in place.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Provider stores encoded snapshots by key with an optional per-entry lifetime.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// LoadJSON decodes the snapshot under key into v and reports whether it was found. An
// undecodable entry is dropped and reported as a miss with the decode error.
func LoadJSON(ctx context.Context, p Provider, key string, v any) (bool, error) {
	raw, err := p.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		_ = p.Del(ctx, key)
		return false, fmt.Errorf("decode cached snapshot %s: %w", key, err)
	}
	return true, nil
}

// StoreJSON encodes v and stores it under key for ttl.
func StoreJSON(ctx context.Context, p Provider, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	return p.Set(ctx, key, raw, ttl)
}

// NoopProvider disables snapshot caching.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (NoopProvider) Del(context.Context, string) error { return nil }

func (NoopProvider) Close() error { return nil }
