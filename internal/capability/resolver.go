// Package capability resolves which grid actions an operator may perform
// from a static role policy, caching the result per identity.
package capability

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/gridform/internal/observability"
	"github.com/pitabwire/gridform/model"
)

type cacheEntry struct {
	caps    model.CapabilitySet
	expires time.Time
}

// Resolver implements model.CapabilityResolver with an in-memory TTL cache.
type Resolver struct {
	evaluator  model.PolicyEvaluator
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxEntries bounds the cache. When full, expired entries are dropped
// and, if none expired, the whole cache is cleared.
func WithMaxEntries(n int) ResolverOption {
	return func(r *Resolver) { r.maxEntries = n }
}

// WithMetrics records cache hits and misses.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a Resolver caching evaluator results for ttl.
func NewResolver(evaluator model.PolicyEvaluator, ttl time.Duration, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		evaluator: evaluator,
		ttl:       ttl,
		now:       time.Now,
		cache:     make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// cacheKey identifies the subject and the exact role set, so a token with
// new roles is never answered from a stale entry.
func cacheKey(rctx *model.RequestContext) string {
	roles := append([]string(nil), rctx.Roles...)
	sort.Strings(roles)
	return rctx.SubjectID + ":" + strings.Join(roles, ",")
}

// Resolve implements model.CapabilityResolver.
func (r *Resolver) Resolve(rctx *model.RequestContext) (model.CapabilitySet, error) {
	key := cacheKey(rctx)

	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(entry.expires) {
		r.metrics.RecordCapabilityCacheHit()
		return entry.caps, nil
	}
	r.metrics.RecordCapabilityCacheMiss()

	caps, err := r.evaluator.ResolveCapabilities(rctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.maxEntries > 0 && len(r.cache) >= r.maxEntries {
		r.evictLocked()
	}
	r.cache[key] = cacheEntry{caps: caps, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return caps, nil
}

func (r *Resolver) evictLocked() {
	now := r.now()
	for k, e := range r.cache {
		if !now.Before(e.expires) {
			delete(r.cache, k)
		}
	}
	if len(r.cache) >= r.maxEntries {
		r.cache = make(map[string]cacheEntry)
	}
}

// Invalidate implements model.CapabilityResolver.
func (r *Resolver) Invalidate(subjectID string) {
	prefix := subjectID + ":"
	r.mu.Lock()
	for key := range r.cache {
		if strings.HasPrefix(key, prefix) {
			delete(r.cache, key)
		}
	}
	r.mu.Unlock()
}

// Len returns the number of cached entries.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
