package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// EnvServerURI overrides the race server endpoint at runtime.
	EnvServerURI = "RACE_SERVER_URI"

	EnvPlayerID   = "RACE_PLAYER_ID"
	EnvPlayerName = "RACE_PLAYER_NAME"
	EnvStatusAddr = "RACE_STATUS_ADDR"
)

const defaultServerURI = "ws://race.flomik.xyz:8080/race"

// Config holds everything the session client consumes from its
// environment. The server URI is the only externally required value; the
// rest have working defaults.
type Config struct {
	ServerURI  string
	PlayerID   string
	PlayerName string

	// StatusAddr is the local listen address for the introspection API.
	StatusAddr string

	// CountdownFallback is the local countdown used when the server does
	// not schedule a start instant.
	CountdownFallback time.Duration

	// ReconnectCooldown is the minimum spacing between reconnect attempts
	// while in a room and disconnected.
	ReconnectCooldown time.Duration

	// ProbeTimeout bounds a single health probe end to end.
	ProbeTimeout time.Duration

	// TickInterval drives the session tick loop.
	TickInterval time.Duration
}

// FromEnv builds a Config from the process environment, applying defaults
// and normalizing the server URI.
func FromEnv() (Config, error) {
	cfg := Config{
		ServerURI:         getenv(EnvServerURI, defaultServerURI),
		PlayerID:          getenv(EnvPlayerID, ""),
		PlayerName:        getenv(EnvPlayerName, "Player"),
		StatusAddr:        getenv(EnvStatusAddr, "127.0.0.1:8791"),
		CountdownFallback: 10 * time.Second,
		ReconnectCooldown: 1500 * time.Millisecond,
		ProbeTimeout:      3 * time.Second,
		TickInterval:      100 * time.Millisecond,
	}

	normalized, err := NormalizeServerURI(cfg.ServerURI)
	if err != nil {
		return Config{}, err
	}
	cfg.ServerURI = normalized
	return cfg, nil
}

// NormalizeServerURI validates a ws:// or wss:// endpoint and appends the
// default /race path when the URI carries no path of its own.
func NormalizeServerURI(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultServerURI
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("server uri %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return "", fmt.Errorf("server uri %q: scheme must be ws or wss", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server uri %q: missing host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/race"
	}
	return u.String(), nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
