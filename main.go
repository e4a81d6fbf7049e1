// Command kick-bridge relays Kick chat into a local line-oriented chat server.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to the upstream Pusher feed and manages room subscriptions.
//   - Accepts local clients on a plain TCP line protocol (JOIN/PART/CHANNELS).
//   - Optionally archives relayed messages to Postgres.
//   - Exposes a minimal HTTP server with /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/kick-bridge/bridge"
	"github.com/onnwee/kick-bridge/chat"
	"github.com/onnwee/kick-bridge/config"
	"github.com/onnwee/kick-bridge/db"
	"github.com/onnwee/kick-bridge/directory"
	"github.com/onnwee/kick-bridge/irc"
	"github.com/onnwee/kick-bridge/kickapi"
	"github.com/onnwee/kick-bridge/pusher"
	"github.com/onnwee/kick-bridge/server"
	"github.com/onnwee/kick-bridge/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.ValidateArchiveReady(); err != nil {
		slog.Error("invalid archive config", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("kick-bridge", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional chat archive
	var database *sql.DB
	var recorder bridge.Recorder
	if cfg.ChatArchive {
		database, err = db.Connect()
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL", slog.Any("err", err), slog.String("component", "db_migrate"))
			if err := db.Migrate(ctx, database); err != nil {
				slog.Error("failed to migrate db", slog.Any("err", err))
				os.Exit(1)
			}
		}
		recorder = chat.NewRecorder(database)
	}

	// Core components
	api := &kickapi.Client{BaseURL: cfg.KickAPIBase}
	dir := directory.New(api, cfg.ResolveCacheTTL)
	feed := pusher.NewFeed(cfg.PusherURL)
	subs := pusher.NewManager(feed, cfg.SubscribeTimeout)
	local := irc.NewServer(irc.Config{
		Addr:        cfg.IRCAddr,
		MaxChannels: cfg.MaxChannelsPerClient,
		Welcome:     cfg.WelcomeText,
	})
	router := bridge.New(ctx, dir, subs, local, recorder)
	local.OnChannelActive(router.ChannelActive)
	local.OnChannelEmpty(router.ChannelEmpty)

	// Binding the local listener is the one fatal startup failure.
	if err := local.Listen(); err != nil {
		slog.Error("failed to bind local listener", slog.Any("err", err))
		os.Exit(1)
	}
	go func() {
		if err := local.Serve(ctx); err != nil && ctx.Err() == nil {
			slog.Error("local server exited with error", slog.Any("err", err))
		}
	}()

	// Upstream feed: every inbound event goes through the subscription
	// manager first (confirmation matching), then the router (fan-out).
	go feed.Run(ctx, func(ev pusher.Event) {
		subs.HandleEvent(ev)
		router.HandleFeedEvent(ev)
	}, subs.Resubscribe)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (health/status/metrics)
	go func() {
		handlers := server.NewHandlers(local, subs, database)
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
