package emotes

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/telemetry"
)

const tracerName = "chatdeck/emotes"

// DiskCache persists catalogs between runs. store.CatalogCache implements it.
type DiskCache interface {
	LoadCatalog(ctx context.Context, provider core.EmoteProvider, scope string, maxAge time.Duration) ([]core.Emote, bool, error)
	SaveCatalog(ctx context.Context, provider core.EmoteProvider, scope string, emotes []core.Emote) error
}

type cacheKey struct {
	provider core.EmoteProvider
	scope    string
}

// Resolver owns the catalog cache for the current channel configuration.
// Reads are concurrent; loads and reconfiguration are serialized by mu.
type Resolver struct {
	Disk       DiskCache
	DiskMaxAge time.Duration

	fetchers map[core.EmoteProvider]Fetcher

	mu        sync.RWMutex
	scope     Scope
	providers core.EmoteProviders
	catalogs  map[cacheKey]Catalog
}

func NewResolver(fetchers ...Fetcher) *Resolver {
	r := &Resolver{
		DiskMaxAge: 24 * time.Hour,
		fetchers:   make(map[core.EmoteProvider]Fetcher, len(fetchers)),
		providers:  core.EmoteProviders{FFZ: true, BTTV: true, SevenTV: true},
		catalogs:   make(map[cacheKey]Catalog),
	}
	for _, f := range fetchers {
		if f != nil {
			r.fetchers[f.Provider()] = f
		}
	}
	return r
}

// Configure switches the channel scope and enabled providers. Channel
// catalogs of a previous scope and catalogs of disabled providers are
// dropped. It reports whether anything changed.
func (r *Resolver) Configure(scope Scope, providers core.EmoteProviders) bool {
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := scope.Key() != r.scope.Key() || providers != r.providers
	if !changed {
		return false
	}
	enabled := make(map[core.EmoteProvider]bool)
	for _, p := range providers.Enabled() {
		enabled[p] = true
	}
	for k := range r.catalogs {
		if !enabled[k.provider] || (k.scope != globalScope && k.scope != scope.Key()) {
			delete(r.catalogs, k)
		}
	}
	r.scope = scope
	r.providers = providers
	return true
}

// Scope is the channel scope the cache currently holds.
func (r *Resolver) Scope() Scope {
	if r == nil {
		return Scope{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scope
}

// Load fetches every enabled provider's global and channel catalogs that
// are not cached yet. Fetches run concurrently; a failing provider is
// logged and cached as empty. Load never fails.
func (r *Resolver) Load(ctx context.Context, scope Scope) {
	if r == nil {
		return
	}
	r.mu.RLock()
	providers := r.providers
	r.mu.RUnlock()
	r.Configure(scope, providers)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers.Enabled() {
		g.Go(func() error {
			r.LoadProvider(gctx, p, scope)
			return nil
		})
	}
	_ = g.Wait()
}

// LoadProvider fills the global and channel catalogs of one provider.
func (r *Resolver) LoadProvider(ctx context.Context, p core.EmoteProvider, scope Scope) {
	f, ok := r.fetchers[p]
	if !ok {
		return
	}
	r.loadOne(ctx, f, globalScope, func(ctx context.Context) ([]core.Emote, error) { return f.Global(ctx) })
	if key := scope.Key(); key != "" {
		r.loadOne(ctx, f, key, func(ctx context.Context) ([]core.Emote, error) { return f.Channel(ctx, scope) })
	}
}

func (r *Resolver) loadOne(ctx context.Context, f Fetcher, scopeKey string, fetch func(context.Context) ([]core.Emote, error)) {
	key := cacheKey{provider: f.Provider(), scope: scopeKey}
	r.mu.RLock()
	_, cached := r.catalogs[key]
	r.mu.RUnlock()
	if cached {
		return
	}

	ctx, span := telemetry.StartSpan(ctx, tracerName, "emotes.load",
		attribute.String("provider", string(key.provider)),
		attribute.String("scope", scopeKey),
	)

	list, fromDisk := r.fromDisk(ctx, key)
	var err error
	if !fromDisk {
		list, err = fetch(ctx)
		if err != nil {
			log.Printf("emotes: %s %s load failed: %v", key.provider, scopeKey, err)
			list = nil
		} else if r.Disk != nil {
			if serr := r.Disk.SaveCatalog(ctx, key.provider, scopeKey, list); serr != nil {
				log.Printf("emotes: %s %s disk save failed: %v", key.provider, scopeKey, serr)
			}
		}
	}
	span.SetAttributes(attribute.Int("emotes", len(list)), attribute.Bool("disk", fromDisk))
	telemetry.End(span, err)

	// a failed fetch is cached as empty until the next reconfiguration
	r.put(key, newCatalog(key.provider, scopeKey != globalScope, list))
}

func (r *Resolver) fromDisk(ctx context.Context, key cacheKey) ([]core.Emote, bool) {
	if r.Disk == nil {
		return nil, false
	}
	list, ok, err := r.Disk.LoadCatalog(ctx, key.provider, key.scope, r.DiskMaxAge)
	if err != nil {
		log.Printf("emotes: %s %s disk load failed: %v", key.provider, key.scope, err)
		return nil, false
	}
	return list, ok
}

func (r *Resolver) put(key cacheKey, c Catalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if key.scope != globalScope && key.scope != r.scope.Key() {
		return
	}
	r.catalogs[key] = c
}

// Put installs a catalog for the current scope directly.
func (r *Resolver) Put(p core.EmoteProvider, channel bool, list []core.Emote) {
	r.mu.RLock()
	scopeKey := globalScope
	if channel {
		scopeKey = r.scope.Key()
	}
	r.mu.RUnlock()
	if scopeKey == "" {
		return
	}
	r.put(cacheKey{provider: p, scope: scopeKey}, newCatalog(p, channel, list))
}

// Catalogs returns the active catalogs for the current scope and enabled
// providers.
func (r *Resolver) Catalogs() []Catalog {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Catalog
	for _, p := range r.providers.Enabled() {
		if c, ok := r.catalogs[cacheKey{provider: p, scope: r.scope.Key()}]; ok && r.scope.Key() != "" {
			out = append(out, c)
		}
		if c, ok := r.catalogs[cacheKey{provider: p, scope: globalScope}]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Resolve matches text against the active catalogs.
func (r *Resolver) Resolve(text string) []core.Emote {
	return Resolve(text, r.Catalogs())
}

// Stats reports catalog sizes keyed by "provider/scope".
func (r *Resolver) Stats() map[string]int {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.catalogs))
	for k, c := range r.catalogs {
		out[string(k.provider)+"/"+k.scope] = c.Len()
	}
	return out
}
