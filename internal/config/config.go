package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/you/chatdeck/internal/core"
)

type Config struct {
	HTTP    HTTPConfig
	Data    DataConfig
	Log     LogConfig
	Emotes  EmoteConfig
	Twitch  TwitchConfig
	YouTube YouTubeConfig
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     float64
	RateBurst   int
	Gzip        bool
}

type DataConfig struct {
	Dir          string
	SettingsPath string
	TokensPath   string
	CachePath    string
}

type LogConfig struct {
	Level  string
	Format string
}

type EmoteConfig struct {
	CacheTTL time.Duration
}

type TwitchConfig struct {
	ClientID     string
	ClientSecret string
	Nick         string
	// Channel seeds chat_settings.json when it does not exist yet.
	Channel string
	IRCURL  string
}

type YouTubeConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	APIKey       string
	// VideoID seeds chat_settings.json when it does not exist yet.
	VideoID     string
	Enabled     bool
	MinPoll     time.Duration
	MaxPoll     time.Duration
	LiveRetries int
}

const (
	defaultAddr        = ":8765"
	defaultDataDir     = "data"
	defaultRateRPS     = 20
	defaultRateBurst   = 40
	defaultLiveRetries = 5
	defaultEmoteTTL    = 24 * time.Hour
	defaultMinPoll     = 2 * time.Second
	defaultMaxPoll     = 20 * time.Second
)

func Load() Config {
	cfg := Config{}

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("CHATDECK_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultAddr
	}
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("CHATDECK_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readFloat("CHATDECK_RATE_RPS", defaultRateRPS)
	cfg.HTTP.RateBurst = readInt("CHATDECK_RATE_BURST", defaultRateBurst)
	cfg.HTTP.Gzip = readBoolDefaultTrue("CHATDECK_HTTP_GZIP", true)

	cfg.Data.Dir = strings.TrimSpace(os.Getenv("CHATDECK_DATA_DIR"))
	if cfg.Data.Dir == "" {
		cfg.Data.Dir = defaultDataDir
	}
	cfg.Data.SettingsPath = pathOr("CHATDECK_SETTINGS_PATH", cfg.Data.Dir, "chat_settings.json")
	cfg.Data.TokensPath = pathOr("CHATDECK_TOKENS_PATH", cfg.Data.Dir, "tokens.json")
	cfg.Data.CachePath = pathOr("CHATDECK_EMOTE_CACHE_PATH", cfg.Data.Dir, "emotes.db")

	cfg.Log.Level = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(os.Getenv("LOG_FORMAT")))
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	cfg.Emotes.CacheTTL = readDuration("CHATDECK_EMOTE_CACHE_TTL", defaultEmoteTTL)

	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("CHATDECK_TWITCH_CLIENT_ID"))
	if cfg.Twitch.ClientID == "" {
		cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_ID"))
	}
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("CHATDECK_TWITCH_CLIENT_SECRET"))
	if cfg.Twitch.ClientSecret == "" {
		cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("TWITCH_CLIENT_SECRET"))
	}
	cfg.Twitch.Nick = strings.ToLower(strings.TrimSpace(os.Getenv("CHATDECK_TWITCH_NICK")))
	cfg.Twitch.Channel = core.NormalizeChannel(os.Getenv("CHATDECK_TWITCH_CHANNEL"))
	cfg.Twitch.IRCURL = strings.TrimSpace(os.Getenv("CHATDECK_TWITCH_IRC_URL"))

	cfg.YouTube.ClientID = strings.TrimSpace(os.Getenv("CHATDECK_YT_CLIENT_ID"))
	cfg.YouTube.ClientSecret = strings.TrimSpace(os.Getenv("CHATDECK_YT_CLIENT_SECRET"))
	cfg.YouTube.RedirectURL = strings.TrimSpace(os.Getenv("CHATDECK_YT_REDIRECT_URL"))
	cfg.YouTube.APIKey = strings.TrimSpace(os.Getenv("CHATDECK_YT_API_KEY"))
	cfg.YouTube.VideoID = core.NormalizeVideoID(os.Getenv("CHATDECK_YT_VIDEO"))
	cfg.YouTube.Enabled = readBool("CHATDECK_YT_ENABLED", cfg.YouTube.VideoID != "")
	cfg.YouTube.MinPoll = readDuration("CHATDECK_YT_MIN_POLL", defaultMinPoll)
	cfg.YouTube.MaxPoll = readDuration("CHATDECK_YT_MAX_POLL", defaultMaxPoll)
	if cfg.YouTube.MaxPoll < cfg.YouTube.MinPoll {
		cfg.YouTube.MaxPoll = cfg.YouTube.MinPoll
	}
	cfg.YouTube.LiveRetries = readInt("CHATDECK_YT_LIVE_RETRIES", defaultLiveRetries)

	return cfg
}

// Seed is the chat configuration used when no settings file exists yet.
func (c Config) Seed() core.ChatConfig {
	seed := core.DefaultChatConfig()
	seed.TwitchChannel = c.Twitch.Channel
	seed.TwitchEnabled = c.Twitch.Channel != ""
	seed.YouTubeVideoID = c.YouTube.VideoID
	seed.YouTubeEnabled = c.YouTube.Enabled
	if envExists("CHATDECK_MAX_MESSAGES") {
		seed.MaxMessages = readInt("CHATDECK_MAX_MESSAGES", core.DefaultHistory)
	}
	return seed.Normalize()
}

// TwitchRefreshEnabled reports whether Twitch tokens can be refreshed.
func (c Config) TwitchRefreshEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != ""
}

// YouTubeRefreshEnabled reports whether Google tokens can be refreshed.
func (c Config) YouTubeRefreshEnabled() bool {
	return c.YouTube.ClientID != "" && c.YouTube.ClientSecret != ""
}

func pathOr(name, dir, file string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return filepath.Join(dir, file)
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func readFloat(name string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// readDuration accepts Go durations ("1500ms") or whole seconds.
func readDuration(name string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func readBoolDefaultTrue(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return v
}

func envExists(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

type Summary struct {
	HTTPAddr     string         `json:"http_addr"`
	DataDir      string         `json:"data_dir"`
	SettingsPath string         `json:"settings_path"`
	TokensPath   string         `json:"tokens_path"`
	CachePath    string         `json:"emote_cache_path"`
	Twitch       TwitchSummary  `json:"twitch"`
	YouTube      YouTubeSummary `json:"yt"`
}

type TwitchSummary struct {
	Channel        string `json:"channel,omitempty"`
	Nick           string `json:"nick,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	ClientSecret   string `json:"client_secret,omitempty"`
	RefreshEnabled bool   `json:"refresh_enabled"`
}

type YouTubeSummary struct {
	Enabled        bool   `json:"enabled"`
	VideoID        string `json:"video_id,omitempty"`
	APIKey         string `json:"api_key,omitempty"`
	ClientID       string `json:"client_id,omitempty"`
	ClientSecret   string `json:"client_secret,omitempty"`
	RefreshEnabled bool   `json:"refresh_enabled"`
}

func (c Config) Summary() Summary {
	return Summary{
		HTTPAddr:     c.HTTP.Addr,
		DataDir:      c.Data.Dir,
		SettingsPath: c.Data.SettingsPath,
		TokensPath:   c.Data.TokensPath,
		CachePath:    c.Data.CachePath,
		Twitch: TwitchSummary{
			Channel:        c.Twitch.Channel,
			Nick:           c.Twitch.Nick,
			ClientID:       redactString(c.Twitch.ClientID),
			ClientSecret:   redactString(c.Twitch.ClientSecret),
			RefreshEnabled: c.TwitchRefreshEnabled(),
		},
		YouTube: YouTubeSummary{
			Enabled:        c.YouTube.Enabled,
			VideoID:        c.YouTube.VideoID,
			APIKey:         redactString(c.YouTube.APIKey),
			ClientID:       redactString(c.YouTube.ClientID),
			ClientSecret:   redactString(c.YouTube.ClientSecret),
			RefreshEnabled: c.YouTubeRefreshEnabled(),
		},
	}
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"gzip":         c.HTTP.Gzip,
		},
		"data": map[string]any{
			"dir":        c.Data.Dir,
			"settings":   c.Data.SettingsPath,
			"tokens":     c.Data.TokensPath,
			"emote_db":   c.Data.CachePath,
			"emote_ttl":  c.Emotes.CacheTTL.String(),
			"log_level":  c.Log.Level,
			"log_format": c.Log.Format,
		},
		"twitch": map[string]any{
			"channel":         c.Twitch.Channel,
			"nick":            c.Twitch.Nick,
			"irc_url":         c.Twitch.IRCURL,
			"client_id":       redactString(c.Twitch.ClientID),
			"client_secret":   redactString(c.Twitch.ClientSecret),
			"refresh_enabled": c.TwitchRefreshEnabled(),
		},
		"youtube": map[string]any{
			"enabled":         c.YouTube.Enabled,
			"video_id":        c.YouTube.VideoID,
			"api_key":         redactString(c.YouTube.APIKey),
			"client_id":       redactString(c.YouTube.ClientID),
			"client_secret":   redactString(c.YouTube.ClientSecret),
			"redirect_url":    c.YouTube.RedirectURL,
			"min_poll":        c.YouTube.MinPoll.String(),
			"max_poll":        c.YouTube.MaxPoll.String(),
			"live_retries":    c.YouTube.LiveRetries,
			"refresh_enabled": c.YouTubeRefreshEnabled(),
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
