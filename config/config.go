// Package config holds the ambient, environment-driven tuning knobs for
// the peer wire core and the demo tooling built around it, loaded the
// same way gTorrent's config package does: a package-level Main, filled
// from os.Getenv with github.com/joho/godotenv loading an optional .env
// file first.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the process-wide configuration for a client embedding
// this core.
type AppConfig struct {
	// ConnectTimeout bounds dialing and the initial handshake (§5: "30s
	// typically").
	ConnectTimeout time.Duration
	// IdleKeepalive is how long the outbound queue may sit empty before
	// the writer emits a KEEP_ALIVE (§4.2). It is parsed but not applied:
	// exchanges always run with exchange.DefaultIdleKeepalive.
	IdleKeepalive time.Duration
	// ReadTimeout is how long a read gap may last before the reader
	// treats the peer as dead (§4.2: "130 seconds"). It is parsed but not
	// applied: exchanges always run with exchange.DefaultReadTimeout.
	ReadTimeout time.Duration
	// MaxPipelinedRequests overrides sharing.MaxPipelinedRequests, via
	// sharing.NewWithLimits.
	MaxPipelinedRequests int
	// DefaultRequestSize overrides sharing.DefaultRequestSize, via
	// sharing.NewWithLimits.
	DefaultRequestSize int
	// MaxRequestSize overrides sharing.MaxRequestSize, via
	// sharing.NewWithLimits.
	MaxRequestSize int

	// SessionLogPath is the sqlite file the store package persists
	// session telemetry to.
	SessionLogPath string
	// WebhookURL, if set, is where notify.WebhookListener POSTs
	// PeerDisconnected/IOError events.
	WebhookURL string
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func stringEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

// NewAppConfig builds an AppConfig from the current environment,
// applying the spec's defaults where a variable is unset.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		ConnectTimeout:       durationEnv("PEERWIRE_CONNECT_TIMEOUT", 30*time.Second),
		IdleKeepalive:        durationEnv("PEERWIRE_IDLE_KEEPALIVE", 2*time.Minute),
		ReadTimeout:          durationEnv("PEERWIRE_READ_TIMEOUT", 130*time.Second),
		MaxPipelinedRequests: intEnv("PEERWIRE_MAX_PIPELINED_REQUESTS", 5),
		DefaultRequestSize:   intEnv("PEERWIRE_DEFAULT_REQUEST_SIZE", 16384),
		MaxRequestSize:       intEnv("PEERWIRE_MAX_REQUEST_SIZE", 131072),
		SessionLogPath:       stringEnv("PEERWIRE_SESSION_LOG_PATH", "storage/sessions.db"),
		WebhookURL:           stringEnv("PEERWIRE_WEBHOOK_URL", ""),
	}
}

// Main is the process-wide configuration, populated on package init the
// way gTorrent's config.Main is.
var Main *AppConfig

func init() {
	_ = godotenv.Load()
	Main = NewAppConfig()
}
