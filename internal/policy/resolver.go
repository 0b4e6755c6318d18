package policy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"tradedispatch_backend/platform/apperr"
	"tradedispatch_backend/platform/logger"

	"golang.org/x/sync/singleflight"
)

// Store reads one setting for one exact scope. found=false means the scope
// has no override for the key, which is not an error.
type Store interface {
	Get(ctx context.Context, key string, scopeType ScopeType, scopeID string) (value string, found bool, err error)
}

type cacheEntry struct {
	value     string
	found     bool
	expiresAt time.Time
}

// Resolver is the read-through policy cache. Entries are cached per
// (key, scopeType, scopeID) with a short TTL. When the store errors, the
// resolver degrades to the last-known-good cached value even if expired.
type Resolver struct {
	store    Store
	defaults map[string]string
	ttl      time.Duration
	log      *logger.Logger

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	group singleflight.Group

	now func() time.Time
}

type cacheKey struct {
	key       string
	scopeType ScopeType
	scopeID   string
}

// NewResolver creates a resolver over the given store. defaults supplies the
// built-in value per key used when no scope carries an override.
func NewResolver(store Store, defaults map[string]string, ttl time.Duration, log *logger.Logger) *Resolver {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Resolver{
		store:    store,
		defaults: defaults,
		ttl:      ttl,
		log:      log,
		cache:    make(map[cacheKey]cacheEntry),
		now:      time.Now,
	}
}

// Resolve walks the scope chain (most specific first) and returns the first
// value found, falling back to the built-in default. A store error degrades
// to the last-known-good cached value for the scope being checked; if none
// exists the error propagates as an unavailable condition.
func (r *Resolver) Resolve(ctx context.Context, key string, chain []Scope) (string, error) {
	for _, scope := range chain {
		value, found, err := r.lookup(ctx, key, scope)
		if err != nil {
			return "", err
		}
		if found {
			return value, nil
		}
	}

	if value, ok := r.defaults[key]; ok {
		return value, nil
	}
	return "", apperr.NotFound("no value or default for policy key " + key)
}

// ResolveInt resolves key and parses it as an integer.
func (r *Resolver) ResolveInt(ctx context.Context, key string, chain []Scope) (int, error) {
	raw, err := r.Resolve(ctx, key, chain)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "policy value for "+key+" is not an integer", err)
	}
	return parsed, nil
}

// ResolveFloat resolves key and parses it as a float.
func (r *Resolver) ResolveFloat(ctx context.Context, key string, chain []Scope) (float64, error) {
	raw, err := r.Resolve(ctx, key, chain)
	if err != nil {
		return 0, err
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindInternal, "policy value for "+key+" is not a number", err)
	}
	return parsed, nil
}

func (r *Resolver) lookup(ctx context.Context, key string, scope Scope) (string, bool, error) {
	ck := cacheKey{key: key, scopeType: scope.Type, scopeID: scope.ID}

	r.mu.Lock()
	entry, cached := r.cache[ck]
	r.mu.Unlock()

	if cached && r.now().Before(entry.expiresAt) {
		return entry.value, entry.found, nil
	}

	// Concurrent misses on the same (key, scope) share one store read.
	shared, err, _ := r.group.Do(key+"|"+string(scope.Type)+"|"+scope.ID, func() (interface{}, error) {
		value, found, err := r.store.Get(ctx, key, scope.Type, scope.ID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[ck] = cacheEntry{value: value, found: found, expiresAt: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return cacheEntry{value: value, found: found}, nil
	})
	if err != nil {
		// Degrade to last-known-good even past TTL rather than stall dispatch.
		if cached {
			if r.log != nil {
				r.log.Warn("policy store unavailable, using last-known-good value",
					"key", key, "scopeType", string(scope.Type), "error", err)
			}
			return entry.value, entry.found, nil
		}
		return "", false, apperr.Wrap(apperr.KindUnavailable, "policy store unreachable", err)
	}

	result := shared.(cacheEntry)
	return result.value, result.found, nil
}
