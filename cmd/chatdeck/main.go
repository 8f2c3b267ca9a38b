package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/you/chatdeck/internal/auth"
	"github.com/you/chatdeck/internal/config"
	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/emotes"
	"github.com/you/chatdeck/internal/helix"
	httpadmin "github.com/you/chatdeck/internal/http"
	"github.com/you/chatdeck/internal/httpapi"
	"github.com/you/chatdeck/internal/hub"
	"github.com/you/chatdeck/internal/ingesttrace"
	"github.com/you/chatdeck/internal/manager"
	"github.com/you/chatdeck/internal/store"
	"github.com/you/chatdeck/internal/telemetry"
	"github.com/you/chatdeck/internal/twitchbadges"
	"github.com/you/chatdeck/internal/twitchirc"
	"github.com/you/chatdeck/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	_ = godotenv.Load()

	var (
		versionFlag     bool
		httpAddr        string
		dataDir         string
		twChannel       string
		twNick          string
		ytVideo         string
		httpCorsOrigins string
		httpRateRPS     float64
		httpRateBurst   int
		httpPprof       bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address (e.g., :8765)")
	flag.StringVar(&dataDir, "data-dir", "", "Directory for settings, tokens and the emote cache")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel used when no settings file exists")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch login paired with the stored token")
	flag.StringVar(&ytVideo, "youtube", "", "YouTube video id or URL used when no settings file exists")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.Float64Var(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpPprof, "http-pprof", false, "Expose pprof handlers under /debug/pprof")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"chatdeck version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if dir := strings.TrimSpace(dataDir); overrides["data-dir"] && dir != "" {
		cfg.Data.Dir = dir
		cfg.Data.SettingsPath = filepath.Join(dir, filepath.Base(cfg.Data.SettingsPath))
		cfg.Data.TokensPath = filepath.Join(dir, filepath.Base(cfg.Data.TokensPath))
		cfg.Data.CachePath = filepath.Join(dir, filepath.Base(cfg.Data.CachePath))
	}
	if overrides["twitch-channel"] {
		cfg.Twitch.Channel = core.NormalizeChannel(twChannel)
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.ToLower(strings.TrimSpace(twNick))
	}
	if overrides["youtube"] {
		cfg.YouTube.VideoID = core.NormalizeVideoID(ytVideo)
		cfg.YouTube.Enabled = strings.TrimSpace(ytVideo) != ""
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}

	setupLogging(cfg.Log.Level, cfg.Log.Format)
	log.Printf("%s", cfg.SummaryJSON())

	shutdownTracing, err := telemetry.InitTracing("chatdeck", version.Version)
	if err != nil {
		slog.Warn("tracing init failed", slog.Any("err", err))
	} else {
		defer shutdownTracing()
	}

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		log.Fatalf("chatdeck: create data dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("chatdeck: received %s, shutting down", sig)
		cancel()
	}()

	// tokens
	tokens, err := auth.Open(cfg.Data.TokensPath)
	if err != nil {
		log.Fatalf("chatdeck: open token store: %v", err)
	}
	if cfg.TwitchRefreshEnabled() {
		tokens.SetRefresher(core.PlatformTwitch, &auth.TwitchRefresher{
			ClientID:     cfg.Twitch.ClientID,
			ClientSecret: cfg.Twitch.ClientSecret,
		})
		tokens.StartAutoRefresh(ctx, core.PlatformTwitch)
	}
	if cfg.YouTubeRefreshEnabled() {
		tokens.SetRefresher(core.PlatformYouTube, auth.NewGoogleRefresher(
			cfg.YouTube.ClientID,
			cfg.YouTube.ClientSecret,
			cfg.YouTube.RedirectURL,
		))
		tokens.StartAutoRefresh(ctx, core.PlatformYouTube)
	}
	log.Printf("chatdeck: tokens %v", tokens.Redacted())

	login := &twitchLogin{
		configured: cfg.Twitch.Nick,
		tokens:     tokens,
		hc:         &http.Client{Timeout: 10 * time.Second},
	}
	login.Refresh(ctx)

	// emotes
	helixClient := helix.New(cfg.Twitch.ClientID, cfg.Twitch.ClientSecret)
	resolver := emotes.NewResolver(
		&emotes.TwitchFetcher{Helix: helixClient},
		&emotes.FFZFetcher{},
		&emotes.BTTVFetcher{},
		&emotes.SevenTVFetcher{},
	)
	resolver.DiskMaxAge = cfg.Emotes.CacheTTL
	cache, err := store.OpenSQLite(ctx, cfg.Data.CachePath)
	if err != nil {
		log.Printf("chatdeck: emote cache disabled: %v", err)
	} else {
		defer func() {
			if err := cache.Close(); err != nil {
				log.Printf("chatdeck: closing emote cache: %v", err)
			}
		}()
		if n, err := cache.Purge(ctx, 7*cfg.Emotes.CacheTTL); err != nil {
			log.Printf("chatdeck: purge emote cache: %v", err)
		} else if n > 0 {
			log.Printf("chatdeck: purged %d stale emote catalogs", n)
		}
		resolver.Disk = cache
	}

	// settings and hub
	settings, err := config.OpenChatStore(cfg.Data.SettingsPath, cfg.Seed())
	if err != nil {
		log.Fatalf("chatdeck: open chat settings: %v", err)
	}
	initial := settings.Get()
	h := hub.New(hub.Options{Capacity: initial.MaxMessages})
	defer h.Close()

	deps := &adapterDeps{
		cfg:    cfg,
		tokens: tokens,
		login:  login,
		emotes: resolver,
		badges: twitchbadges.NewResolver(helixClient),
	}

	var api *httpapi.Server
	mgr := manager.New(manager.Options{
		Hub:            h,
		Emotes:         resolver,
		Trace:          ingesttrace.NewRecorder(slog.Default()),
		TwitchFactory:  deps.twitchFactory,
		YouTubeFactory: deps.youtubeFactory,
		OnMessage: func(msg core.ChatMessage) {
			api.Metrics().IncIngested(msg.Platform)
		},
	})

	build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
	if version.BuildTime != "" && version.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
			build.BuiltAt = t
		}
	}
	api = httpapi.New(h, mgr, settings, httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		Build:       build,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateRPS:     cfg.HTTP.RateRPS,
		RateBurst:   cfg.HTTP.RateBurst,
		Gzip:        cfg.HTTP.Gzip,
		Pprof:       httpPprof,
		Mount:       httpadmin.New(operator{tokens: tokens, mgr: mgr}).Register,
	})
	deps.metrics = twitchirc.NewMetrics(api.Metrics().Registry())

	tokens.OnChange = func(p core.Platform) {
		go onTokensChanged(ctx, p, login, mgr)
	}
	if err := tokens.Watch(ctx); err != nil {
		log.Printf("chatdeck: token file watch disabled: %v", err)
	}

	settings.Subscribe(func(next core.ChatConfig) {
		if err := mgr.Apply(next); err != nil {
			log.Printf("chatdeck: apply settings: %v", err)
		}
	})
	if err := settings.Watch(ctx); err != nil {
		log.Printf("chatdeck: settings file watch disabled: %v", err)
	}
	if err := mgr.Apply(initial); err != nil {
		log.Printf("chatdeck: apply settings: %v", err)
	}

	apiErr := make(chan error, 1)
	go func() {
		apiErr <- api.Start()
	}()
	log.Printf("chatdeck: http api ready on %s", cfg.HTTP.Addr)

	select {
	case <-ctx.Done():
	case err := <-apiErr:
		if err != nil {
			log.Printf("chatdeck: http api: %v", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Printf("chatdeck: http shutdown: %v", err)
	}
	mgr.Close()
	log.Printf("chatdeck: stopped")
}
