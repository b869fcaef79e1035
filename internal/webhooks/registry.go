package webhooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/watzon/docwebhooks/internal/doctype"
)

// Loader reads enabled webhooks for one doctype from storage.
type Loader interface {
	ListEnabledByDoctype(ctx context.Context, doctype string) ([]*Webhook, error)
}

// Registry caches enabled webhooks by doctype and event. A miss loads every
// enabled webhook of the doctype at once and fills all of its event buckets.
// Writes to configurations must call Invalidate.
type Registry struct {
	loader Loader

	mu    sync.RWMutex
	cache map[string]map[doctype.Event][]*Webhook
	// generation guards against a slow load repopulating the cache with
	// data read before an invalidation.
	generation uint64
}

func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader: loader,
		cache:  make(map[string]map[doctype.Event][]*Webhook),
	}
}

// For returns clones of the enabled webhooks registered for the pair.
func (r *Registry) For(ctx context.Context, doctypeName string, event doctype.Event) ([]*Webhook, error) {
	r.mu.RLock()
	buckets, ok := r.cache[doctypeName]
	gen := r.generation
	r.mu.RUnlock()

	if !ok {
		var err error
		buckets, err = r.load(ctx, doctypeName, gen)
		if err != nil {
			return nil, err
		}
	}

	hooks := buckets[event]
	out := make([]*Webhook, len(hooks))
	for i, w := range hooks {
		out[i] = w.Clone()
	}
	return out, nil
}

func (r *Registry) load(ctx context.Context, doctypeName string, gen uint64) (map[doctype.Event][]*Webhook, error) {
	hooks, err := r.loader.ListEnabledByDoctype(ctx, doctypeName)
	if err != nil {
		return nil, fmt.Errorf("loading webhooks for %s: %w", doctypeName, err)
	}

	buckets := make(map[doctype.Event][]*Webhook)
	for _, w := range hooks {
		if !w.Enabled {
			continue
		}
		buckets[w.Event] = append(buckets[w.Event], w)
	}

	r.mu.Lock()
	if r.generation == gen {
		r.cache[doctypeName] = buckets
	}
	r.mu.Unlock()

	log.Debug().
		Str("doctype", doctypeName).
		Int("webhooks", len(hooks)).
		Msg("Webhook registry loaded")

	return buckets, nil
}

// Invalidate drops cached entries for the given doctypes, or everything
// when none are given.
func (r *Registry) Invalidate(doctypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.generation++
	if len(doctypes) == 0 {
		r.cache = make(map[string]map[doctype.Event][]*Webhook)
		return
	}
	for _, dt := range doctypes {
		delete(r.cache, dt)
	}
}

// Cached reports whether the doctype currently has a cache entry.
func (r *Registry) Cached(doctypeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[doctypeName]
	return ok
}
