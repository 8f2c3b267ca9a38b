package emotes

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/chatdeck/internal/core"
)

type fakeFetcher struct {
	provider core.EmoteProvider
	global   []core.Emote
	channel  []core.Emote
	err      error
	calls    atomic.Int64
}

func (f *fakeFetcher) Provider() core.EmoteProvider { return f.provider }

func (f *fakeFetcher) Global(ctx context.Context) ([]core.Emote, error) {
	f.calls.Add(1)
	return f.global, f.err
}

func (f *fakeFetcher) Channel(ctx context.Context, scope Scope) ([]core.Emote, error) {
	f.calls.Add(1)
	return f.channel, f.err
}

func TestLoadToleratesProviderFailure(t *testing.T) {
	native := &fakeFetcher{provider: core.ProviderTwitch, global: []core.Emote{{Code: "PogChamp", URL: "u"}}}
	broken := &fakeFetcher{provider: core.ProviderBTTV, err: errors.New("boom")}
	seven := &fakeFetcher{provider: core.ProviderSevenTV, channel: []core.Emote{{Code: "catJAM", URL: "u"}}}

	r := NewResolver(native, broken, seven)
	r.Load(context.Background(), Scope{Channel: "examplechannel", ChannelID: "42"})

	got := r.Resolve("PogChamp catJAM OMEGALUL")
	if len(got) != 2 || got[0].Code != "PogChamp" || got[1].Provider != core.ProviderSevenTV {
		t.Fatalf("unexpected resolution %#v", got)
	}
	stats := r.Stats()
	if n, ok := stats["bttv/global"]; !ok || n != 0 {
		t.Fatalf("failed provider should be cached as empty, stats=%v", stats)
	}

	before := broken.calls.Load()
	r.Load(context.Background(), Scope{Channel: "examplechannel", ChannelID: "42"})
	if broken.calls.Load() != before {
		t.Fatalf("cached catalogs should not be refetched")
	}
}

func TestConfigureInvalidates(t *testing.T) {
	ffz := &fakeFetcher{provider: core.ProviderFFZ, global: []core.Emote{{Code: "CatBag", URL: "u"}}, channel: []core.Emote{{Code: "monkaS", URL: "u"}}}
	r := NewResolver(ffz)
	r.Load(context.Background(), Scope{Channel: "one"})
	if len(r.Resolve("monkaS")) != 1 {
		t.Fatalf("expected channel emote")
	}

	if !r.Configure(Scope{Channel: "two"}, core.EmoteProviders{FFZ: true, BTTV: true, SevenTV: true}) {
		t.Fatalf("scope change should report a change")
	}
	if len(r.Resolve("monkaS")) != 0 {
		t.Fatalf("old channel catalog should be dropped")
	}
	if len(r.Resolve("CatBag")) != 1 {
		t.Fatalf("global catalog should survive a channel change")
	}

	r.Configure(Scope{Channel: "two"}, core.EmoteProviders{})
	if len(r.Resolve("CatBag")) != 0 {
		t.Fatalf("disabled provider should not resolve")
	}
	if r.Configure(Scope{Channel: "two"}, core.EmoteProviders{}) {
		t.Fatalf("identical configuration should be a no-op")
	}
}

type memDisk struct {
	mu    sync.Mutex
	saved map[string][]core.Emote
}

func (m *memDisk) LoadCatalog(ctx context.Context, p core.EmoteProvider, scope string, maxAge time.Duration) ([]core.Emote, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list, ok := m.saved[string(p)+"/"+scope]
	return list, ok, nil
}

func (m *memDisk) SaveCatalog(ctx context.Context, p core.EmoteProvider, scope string, list []core.Emote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[string(p)+"/"+scope] = list
	return nil
}

func TestDiskCacheShortCircuitsFetch(t *testing.T) {
	disk := &memDisk{saved: map[string][]core.Emote{}}
	bttv := &fakeFetcher{provider: core.ProviderBTTV, global: []core.Emote{{Code: "OMEGALUL", URL: "u"}}}

	first := NewResolver(bttv)
	first.Disk = disk
	first.Load(context.Background(), Scope{})
	if bttv.calls.Load() != 1 {
		t.Fatalf("expected one fetch, got %d", bttv.calls.Load())
	}

	second := NewResolver(bttv)
	second.Disk = disk
	second.Load(context.Background(), Scope{})
	if bttv.calls.Load() != 1 {
		t.Fatalf("disk cache should serve the second load, fetches=%d", bttv.calls.Load())
	}
	if len(second.Resolve("OMEGALUL")) != 1 {
		t.Fatalf("expected disk-backed catalog to resolve")
	}
}

func TestPutSeedsCatalog(t *testing.T) {
	r := NewResolver()
	r.Configure(Scope{Channel: "examplechannel"}, core.EmoteProviders{})
	r.Put(core.ProviderTwitch, false, []core.Emote{{Code: "PogChamp", URL: NativeTwitchURL("305954156")}})
	got := r.Resolve("Hello PogChamp")
	if len(got) != 1 || got[0].Provider != core.ProviderTwitch {
		t.Fatalf("unexpected %#v", got)
	}
	var nilResolver *Resolver
	if len(nilResolver.Catalogs()) != 0 {
		t.Fatalf("nil resolver should have no catalogs")
	}
}
