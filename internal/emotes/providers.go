package emotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/helix"
)

// Fetcher pulls one provider's catalogs. Channel returns (nil, nil) when the
// provider has nothing for the scope.
type Fetcher interface {
	Provider() core.EmoteProvider
	Global(ctx context.Context) ([]core.Emote, error)
	Channel(ctx context.Context, scope Scope) ([]core.Emote, error)
}

var (
	defaultFFZBaseURL     = "https://api.frankerfacez.com"
	defaultBTTVBaseURL    = "https://api.betterttv.net"
	defaultSevenTVBaseURL = "https://7tv.io"

	errNotFound = errors.New("emotes: not found")
)

const fetchTimeout = 10 * time.Second

func getJSON(ctx context.Context, hc *http.Client, rawURL string, out any) error {
	if hc == nil {
		hc = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", core.ErrTransport, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", core.ErrProtocol, err)
	}
	return nil
}

func baseOr(base, def string) string {
	base = strings.TrimSuffix(strings.TrimSpace(base), "/")
	if base == "" {
		return def
	}
	return base
}

// NativeTwitchURL is the CDN rendition used for native Twitch emotes.
func NativeTwitchURL(id string) string {
	return "https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/1.0"
}

// TwitchFetcher reads native catalogs from Helix. Without app credentials it
// returns empty catalogs.
type TwitchFetcher struct {
	Helix *helix.Client
}

func (f *TwitchFetcher) Provider() core.EmoteProvider { return core.ProviderTwitch }

func (f *TwitchFetcher) Global(ctx context.Context) ([]core.Emote, error) {
	return f.fetch(ctx, "")
}

func (f *TwitchFetcher) Channel(ctx context.Context, scope Scope) ([]core.Emote, error) {
	if !helix.IsNumericID(scope.ChannelID) {
		return nil, nil
	}
	return f.fetch(ctx, scope.ChannelID)
}

func (f *TwitchFetcher) fetch(ctx context.Context, broadcasterID string) ([]core.Emote, error) {
	if !f.Helix.Configured() {
		return nil, nil
	}
	list, err := f.Helix.Emotes(ctx, broadcasterID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Emote, 0, len(list))
	for _, e := range list {
		out = append(out, core.Emote{
			Code:     e.Name,
			EmoteID:  e.ID,
			URL:      NativeTwitchURL(e.ID),
			Provider: core.ProviderTwitch,
			Animated: e.Animated(),
		})
	}
	return out, nil
}

// FFZFetcher reads FrankerFaceZ sets. Channel catalogs are keyed by login.
type FFZFetcher struct {
	HTTP    *http.Client
	BaseURL string
}

type ffzSets struct {
	Sets map[string]struct {
		Emoticons []struct {
			ID   int               `json:"id"`
			Name string            `json:"name"`
			URLs map[string]string `json:"urls"`
		} `json:"emoticons"`
	} `json:"sets"`
}

func (f *FFZFetcher) Provider() core.EmoteProvider { return core.ProviderFFZ }

func (f *FFZFetcher) Global(ctx context.Context) ([]core.Emote, error) {
	return f.fetch(ctx, "/v1/set/global")
}

func (f *FFZFetcher) Channel(ctx context.Context, scope Scope) ([]core.Emote, error) {
	login := strings.ToLower(strings.TrimSpace(scope.Channel))
	if login == "" {
		return nil, nil
	}
	return f.fetch(ctx, "/v1/room/"+url.PathEscape(login))
}

func (f *FFZFetcher) fetch(ctx context.Context, path string) ([]core.Emote, error) {
	var parsed ffzSets
	if err := getJSON(ctx, f.HTTP, baseOr(f.BaseURL, defaultFFZBaseURL)+path, &parsed); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var out []core.Emote
	for _, set := range parsed.Sets {
		for _, e := range set.Emoticons {
			u := firstNonEmpty(e.URLs["4"], e.URLs["2"], e.URLs["1"])
			if e.Name == "" || u == "" {
				continue
			}
			if strings.HasPrefix(u, "//") {
				u = "https:" + u
			}
			out = append(out, core.Emote{
				Code:     e.Name,
				EmoteID:  strconv.Itoa(e.ID),
				URL:      u,
				Provider: core.ProviderFFZ,
			})
		}
	}
	return out, nil
}

// BTTVFetcher reads BetterTTV cached catalogs.
type BTTVFetcher struct {
	HTTP    *http.Client
	BaseURL string
}

type bttvEmote struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Animated bool   `json:"animated"`
}

func (f *BTTVFetcher) Provider() core.EmoteProvider { return core.ProviderBTTV }

func (f *BTTVFetcher) Global(ctx context.Context) ([]core.Emote, error) {
	var parsed []bttvEmote
	if err := getJSON(ctx, f.HTTP, baseOr(f.BaseURL, defaultBTTVBaseURL)+"/3/cached/emotes/global", &parsed); err != nil {
		return nil, err
	}
	return bttvEmotes(parsed), nil
}

func (f *BTTVFetcher) Channel(ctx context.Context, scope Scope) ([]core.Emote, error) {
	ident := scope.ident()
	if ident == "" {
		return nil, nil
	}
	var parsed struct {
		ChannelEmotes []bttvEmote `json:"channelEmotes"`
		SharedEmotes  []bttvEmote `json:"sharedEmotes"`
	}
	endpoint := baseOr(f.BaseURL, defaultBTTVBaseURL) + "/3/cached/users/twitch/" + url.PathEscape(ident)
	if err := getJSON(ctx, f.HTTP, endpoint, &parsed); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return bttvEmotes(append(parsed.ChannelEmotes, parsed.SharedEmotes...)), nil
}

func bttvEmotes(in []bttvEmote) []core.Emote {
	out := make([]core.Emote, 0, len(in))
	for _, e := range in {
		if e.ID == "" || e.Code == "" {
			continue
		}
		out = append(out, core.Emote{
			Code:     e.Code,
			EmoteID:  e.ID,
			URL:      "https://cdn.betterttv.net/emote/" + e.ID + "/1x",
			Provider: core.ProviderBTTV,
			Animated: e.Animated,
		})
	}
	return out
}

// SevenTVFetcher reads 7TV v3 emote sets.
type SevenTVFetcher struct {
	HTTP    *http.Client
	BaseURL string
}

type sevenTVEmote struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data struct {
		Animated bool `json:"animated"`
		Host     struct {
			URL   string `json:"url"`
			Files []struct {
				Name string `json:"name"`
			} `json:"files"`
		} `json:"host"`
	} `json:"data"`
}

func (f *SevenTVFetcher) Provider() core.EmoteProvider { return core.ProviderSevenTV }

func (f *SevenTVFetcher) Global(ctx context.Context) ([]core.Emote, error) {
	var parsed struct {
		Emotes []sevenTVEmote `json:"emotes"`
	}
	if err := getJSON(ctx, f.HTTP, baseOr(f.BaseURL, defaultSevenTVBaseURL)+"/v3/emote-sets/global", &parsed); err != nil {
		return nil, err
	}
	return sevenTVEmotes(parsed.Emotes), nil
}

func (f *SevenTVFetcher) Channel(ctx context.Context, scope Scope) ([]core.Emote, error) {
	ident := scope.ident()
	if ident == "" {
		return nil, nil
	}
	var parsed struct {
		EmoteSet struct {
			Emotes []sevenTVEmote `json:"emotes"`
		} `json:"emote_set"`
	}
	endpoint := baseOr(f.BaseURL, defaultSevenTVBaseURL) + "/v3/users/twitch/" + url.PathEscape(ident)
	if err := getJSON(ctx, f.HTTP, endpoint, &parsed); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return sevenTVEmotes(parsed.EmoteSet.Emotes), nil
}

func sevenTVEmotes(in []sevenTVEmote) []core.Emote {
	out := make([]core.Emote, 0, len(in))
	for _, e := range in {
		u := sevenTVURL(e)
		if e.Name == "" || u == "" {
			continue
		}
		out = append(out, core.Emote{
			Code:     e.Name,
			EmoteID:  e.ID,
			URL:      u,
			Provider: core.ProviderSevenTV,
			Animated: e.Data.Animated,
		})
	}
	return out
}

func sevenTVURL(e sevenTVEmote) string {
	host := strings.TrimSuffix(e.Data.Host.URL, "/")
	if host != "" {
		if strings.HasPrefix(host, "//") {
			host = "https:" + host
		}
		for _, f := range e.Data.Host.Files {
			if f.Name == "1x.webp" {
				return host + "/1x.webp"
			}
		}
	}
	if e.ID == "" {
		return ""
	}
	return "https://cdn.7tv.app/emote/" + e.ID + "/1x.webp"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
