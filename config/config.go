// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultPusherURL is the upstream Pusher application endpoint Kick chat events
// are delivered on. Overridable via PUSHER_URL for tests and regional apps.
const DefaultPusherURL = "wss://ws-us2.pusher.com/app/eb1d5f283081a78b932c?protocol=7&client=js&version=7.6.0&flash=false"

type Config struct {
	// Local line-protocol listener
	IRCAddr     string
	WelcomeText string

	// Upstream Kick / Pusher
	PusherURL   string
	KickAPIBase string

	// Limits and timing
	MaxChannelsPerClient int
	SubscribeTimeout     time.Duration
	ResolveCacheTTL      time.Duration

	// Admin HTTP (health/status/metrics)
	HTTPAddr string

	// Optional chat archiving
	DBDsn       string
	ChatArchive bool
}

// Load reads environment variables and applies defaults. It doesn't fail when optional
// variables are missing; an empty DB_DSN simply disables the chat archiver.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.IRCAddr = os.Getenv("IRC_ADDR")
	if cfg.IRCAddr == "" {
		cfg.IRCAddr = ":6667"
	}
	cfg.WelcomeText = os.Getenv("WELCOME_TEXT")
	if cfg.WelcomeText == "" {
		cfg.WelcomeText = "Connected to proxy!\r\nType /raw JOIN #channel to connect to a channel!"
	}

	cfg.PusherURL = os.Getenv("PUSHER_URL")
	if cfg.PusherURL == "" {
		cfg.PusherURL = DefaultPusherURL
	}
	cfg.KickAPIBase = os.Getenv("KICK_API_BASE")
	if cfg.KickAPIBase == "" {
		cfg.KickAPIBase = "https://kick.com"
	}

	cfg.MaxChannelsPerClient = 10
	if v := os.Getenv("MAX_CHANNELS_PER_CLIENT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid MAX_CHANNELS_PER_CLIENT %q", v)
		}
		cfg.MaxChannelsPerClient = n
	}

	cfg.SubscribeTimeout = 5 * time.Second
	if v := os.Getenv("SUBSCRIBE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid SUBSCRIBE_TIMEOUT %q", v)
		}
		cfg.SubscribeTimeout = d
	}

	cfg.ResolveCacheTTL = 15 * time.Minute
	if v := os.Getenv("RESOLVE_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid RESOLVE_CACHE_TTL %q", v)
		}
		cfg.ResolveCacheTTL = d
	}

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.DBDsn = os.Getenv("DB_DSN")
	cfg.ChatArchive = os.Getenv("CHAT_ARCHIVE") == "1"

	return cfg, nil
}

// ValidateArchiveReady checks required fields when chat archiving is enabled.
func (c *Config) ValidateArchiveReady() error {
	if !c.ChatArchive {
		return nil
	}
	if c.DBDsn == "" {
		return fmt.Errorf("CHAT_ARCHIVE=1 requires DB_DSN")
	}
	return nil
}
