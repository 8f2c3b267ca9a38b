package twitchbadges

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/helix"
)

const (
	defaultTTL        = 6 * time.Hour
	defaultFailureTTL = 2 * time.Minute
)

// Ref is one entry of the IRC badges tag, e.g. subscriber/12.
type Ref struct {
	Set     string
	Version string
}

// fallbackIcons cover the common global badges when Helix credentials are
// not configured.
var fallbackIcons = map[string]string{
	"broadcaster/1": "https://static-cdn.jtvnw.net/badges/v1/5527c58c-fb7d-422d-b71b-f309dcb85cc1/3",
	"moderator/1":   "https://static-cdn.jtvnw.net/badges/v1/3267646d-33f0-4b17-b3df-f923a41db1d0/3",
	"vip/1":         "https://static-cdn.jtvnw.net/badges/v1/b817aba4-fad8-49e2-b88a-7cc744f6a6e3/3",
	"subscriber/0":  "https://static-cdn.jtvnw.net/badges/v1/5d9f2208-5dd8-11e7-8513-2ff4adfae661/3",
	"subscriber/1":  "https://static-cdn.jtvnw.net/badges/v1/5d9f2208-5dd8-11e7-8513-2ff4adfae661/3",
	"premium/1":     "https://static-cdn.jtvnw.net/badges/v1/bbbe0db0-a598-423e-86d0-f9fb98ca1933/3",
	"partner/1":     "https://static-cdn.jtvnw.net/badges/v1/d12a2e27-16f6-41d0-ab77-b780518f00a3/3",
	"turbo/1":       "https://static-cdn.jtvnw.net/badges/v1/bd444ec6-8f34-4bf9-91f4-af1e3428d80f/3",
	"founder/0":     "https://static-cdn.jtvnw.net/badges/v1/511b78a9-ab37-472f-9569-457753bbe7d3/3",
}

// Resolver maps badge refs to display badges with icon URLs, caching Helix
// badge metadata per scope.
type Resolver struct {
	Helix *helix.Client
	TTL   time.Duration
	// FailureTTL is how long a failed fetch is remembered before Helix is
	// asked again for the same scope.
	FailureTTL time.Duration

	mu        sync.Mutex
	badgeSets map[string]cacheEntry

	enriched sync.Map
}

type cacheEntry struct {
	icons     map[string]string
	expiresAt time.Time
}

func NewResolver(client *helix.Client) *Resolver {
	return &Resolver{Helix: client}
}

// Enrich never fails: refs that cannot be matched keep an empty IconURL.
func (r *Resolver) Enrich(ctx context.Context, broadcasterID string, refs []Ref) []core.ChatBadge {
	out := make([]core.ChatBadge, 0, len(refs))
	if len(refs) == 0 {
		return out
	}

	var icons map[string]string
	if r != nil {
		icons = r.lookup(ctx, strings.TrimSpace(broadcasterID))
	}

	matched := 0
	for _, ref := range refs {
		badge := core.ChatBadge{Name: ref.Set}
		key := ref.Set + "/" + ref.Version
		if url := icons[key]; url != "" {
			badge.IconURL = url
			matched++
		} else if url := fallbackIcons[key]; url != "" {
			badge.IconURL = url
		} else if url := fallbackIcons[ref.Set+"/1"]; url != "" {
			badge.IconURL = url
		}
		out = append(out, badge)
	}

	if matched > 0 && r != nil {
		if _, seen := r.enriched.LoadOrStore(broadcasterID, struct{}{}); !seen {
			log.Printf("twitchbadges: enriched %d badges for broadcaster=%s", matched, broadcasterID)
		}
	}
	return out
}

func (r *Resolver) lookup(ctx context.Context, broadcasterID string) map[string]string {
	if !r.Helix.Configured() {
		return nil
	}
	ttl := r.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}

	result := map[string]string{}
	merge := func(scope string) {
		if icons, ok := r.cached(scope); ok {
			for k, v := range icons {
				result[k] = v
			}
			return
		}
		id := broadcasterID
		if scope == "global" {
			id = ""
		}
		sets, err := r.Helix.BadgeSets(ctx, id)
		if err != nil {
			failTTL := r.FailureTTL
			if failTTL <= 0 {
				failTTL = defaultFailureTTL
			}
			log.Printf("twitchbadges: fetch %s badges: %v; retrying in %s", scope, err, failTTL)
			r.store(scope, map[string]string{}, failTTL)
			return
		}
		icons := flatten(sets)
		r.store(scope, icons, ttl)
		log.Printf("twitchbadges: fetched %s badge metadata (%d sets)", scope, len(sets))
		for k, v := range icons {
			result[k] = v
		}
	}

	merge("global")
	if helix.IsNumericID(broadcasterID) {
		merge(broadcasterID)
	}
	return result
}

func (r *Resolver) cached(scope string) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.badgeSets[scope]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.icons, true
}

func (r *Resolver) store(scope string, icons map[string]string, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.badgeSets == nil {
		r.badgeSets = map[string]cacheEntry{}
	}
	r.badgeSets[scope] = cacheEntry{icons: icons, expiresAt: time.Now().Add(ttl)}
}

// flatten indexes badge sets as "set/version" → best available icon URL.
func flatten(sets []helix.BadgeSet) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		if set.SetID == "" {
			continue
		}
		for _, v := range set.Versions {
			if v.ID == "" {
				continue
			}
			url := v.ImageURL4x
			if url == "" {
				url = v.ImageURL2x
			}
			if url == "" {
				url = v.ImageURL1x
			}
			if url != "" {
				out[set.SetID+"/"+v.ID] = url
			}
		}
	}
	return out
}
