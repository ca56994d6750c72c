package proofs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/vocdoni/eerc-client/crypto/bjj"
	"github.com/vocdoni/eerc-client/log"
)

// AuditorSource returns the auditor public key currently set on chain.
type AuditorSource interface {
	AuditorPublicKey(ctx context.Context) (*bjj.Point, error)
}

// AuditorKeyCache keeps the auditor public key after the first fetch.
// Concurrent misses share a single fetch. The key is only dropped by
// Invalidate, which callers use when the chain rejects a proof built with it.
type AuditorKeyCache struct {
	src   AuditorSource
	mu    sync.RWMutex
	key   *bjj.Point
	group singleflight.Group
}

// NewAuditorKeyCache returns an empty cache over src.
func NewAuditorKeyCache(src AuditorSource) *AuditorKeyCache {
	return &AuditorKeyCache{src: src}
}

// Get returns the cached key or fetches it.
func (c *AuditorKeyCache) Get(ctx context.Context) (*bjj.Point, error) {
	c.mu.RLock()
	key := c.key
	c.mu.RUnlock()
	if key != nil {
		return key, nil
	}
	v, err, _ := c.group.Do("auditor", func() (any, error) {
		c.mu.RLock()
		cached := c.key
		c.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		key, err := c.src.AuditorPublicKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch auditor key: %w", err)
		}
		if key.IsZero() || !key.Valid() {
			return nil, fmt.Errorf("auditor key not set or not a valid point")
		}
		c.mu.Lock()
		c.key = key
		c.mu.Unlock()
		log.Debugw("auditor key cached", "key", key.String())
		return key, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*bjj.Point), nil
}

// Invalidate drops the cached key so the next Get fetches it again.
func (c *AuditorKeyCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = nil
	c.group.Forget("auditor")
}
