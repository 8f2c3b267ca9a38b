// Package emotes loads native and third-party emote catalogs and matches
// message tokens against them.
package emotes

import (
	"sort"
	"strings"

	"github.com/you/chatdeck/internal/core"
)

// Scope identifies the channel whose catalogs are loaded. ChannelID is the
// numeric Twitch id when known; Channel is the login.
type Scope struct {
	Channel   string
	ChannelID string
}

// Key is the cache key of the channel scope. Empty scopes have no channel
// catalogs.
func (s Scope) Key() string {
	if s.ChannelID != "" {
		return "channel:" + s.ChannelID
	}
	if s.Channel != "" {
		return "login:" + strings.ToLower(s.Channel)
	}
	return ""
}

// ident is what BTTV and 7TV accept in their user endpoints.
func (s Scope) ident() string {
	if s.ChannelID != "" {
		return s.ChannelID
	}
	return strings.ToLower(s.Channel)
}

const globalScope = "global"

// Catalog is one provider's code → emote mapping for one scope.
type Catalog struct {
	Provider core.EmoteProvider
	Channel  bool
	Emotes   map[string]core.Emote
}

func newCatalog(p core.EmoteProvider, channel bool, list []core.Emote) Catalog {
	c := Catalog{Provider: p, Channel: channel, Emotes: make(map[string]core.Emote, len(list))}
	for _, e := range list {
		if e.Code == "" || e.URL == "" {
			continue
		}
		e.Provider = p
		// later duplicates never override the first definition
		if _, ok := c.Emotes[e.Code]; !ok {
			c.Emotes[e.Code] = e
		}
	}
	return c
}

func (c Catalog) Len() int { return len(c.Emotes) }

func providerRank(p core.EmoteProvider) int {
	for i, o := range core.ProviderOrder {
		if o == p {
			return i
		}
	}
	return len(core.ProviderOrder)
}

// Resolve returns the emotes whose code appears as a whitespace-delimited
// token of text, in order of first appearance and listed once each. When a
// code exists in several catalogs the provider order native-twitch, ffz, bttv,
// seventv decides, and a channel catalog beats the global one of the same
// provider. Resolve does not modify its inputs.
func Resolve(text string, catalogs []Catalog) []core.Emote {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(catalogs) == 0 {
		return []core.Emote{}
	}

	ordered := make([]Catalog, len(catalogs))
	copy(ordered, catalogs)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := providerRank(ordered[i].Provider), providerRank(ordered[j].Provider)
		if ri != rj {
			return ri < rj
		}
		return ordered[i].Channel && !ordered[j].Channel
	})

	out := []core.Emote{}
	seen := make(map[string]struct{})
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		for _, c := range ordered {
			if e, ok := c.Emotes[tok]; ok {
				seen[tok] = struct{}{}
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Merge appends extra emotes whose code is not already in base.
func Merge(base []core.Emote, extra []core.Emote) []core.Emote {
	out := append([]core.Emote(nil), base...)
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		seen[e.Code] = struct{}{}
	}
	for _, e := range extra {
		if _, ok := seen[e.Code]; ok {
			continue
		}
		seen[e.Code] = struct{}{}
		out = append(out, e)
	}
	if out == nil {
		out = []core.Emote{}
	}
	return out
}
