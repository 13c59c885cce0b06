// Package config resolves process configuration: the Store connection
// string, the listen address, and the tunable constants of spec.md §6.6.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tunables fixed by the specification (spec.md §6.6). These are not
// user-configurable; they are named here instead of scattered as magic
// numbers through the core.
const (
	LivenessTTL          = 30 * time.Second
	SessionCheckerPeriod = 10 * time.Second
	CheckpointerPeriod   = 15 * time.Second
	CheckpointerBatch    = 1000
	BroadcasterBatch     = 100
	BroadcasterBlock     = 1000 * time.Millisecond
	SnapshotChunkSize    = 100
	PresenceBusCapacity  = 1000
	StoreRetryAttempts   = 5
	StorePoolSize        = 5
	DefaultListenAddr    = "0.0.0.0:8080"

	// VersionSentinel is the "beginning of log" marker (spec.md §3, §9).
	// It must never be conflated with the empty string.
	VersionSentinel = "0"
)

// Config carries process-level settings resolved from the environment.
type Config struct {
	// StoreURL is the connection string for the backing Store (Redis or
	// compatible). Resolved from STORE_URL, or assembled from
	// STORE_USER/STORE_PASSWORD/STORE_HOST when STORE_URL is unset.
	StoreURL string

	// ListenAddr is the address the HTTP upgrade endpoint binds to.
	ListenAddr string

	// AllowedOrigins, when non-empty, restricts the WebSocket upgrade's
	// origin check to this set. Empty means only same-host and localhost
	// origins are allowed (see internal/ws) — the socket upgrade path and its
	// CORS policy are out of the core's scope (spec.md §1) but cmd/server
	// still needs something reasonable to run.
	AllowedOrigins []string
}

// Load resolves configuration from the process environment. Callers are
// expected to have already loaded any .env file (see cmd/server/main.go).
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: DefaultListenAddr,
	}

	if url := os.Getenv("STORE_URL"); url != "" {
		cfg.StoreURL = url
	} else {
		user := os.Getenv("STORE_USER")
		password := os.Getenv("STORE_PASSWORD")
		host := os.Getenv("STORE_HOST")
		if host == "" {
			return nil, fmt.Errorf("config: one of STORE_URL or STORE_HOST must be set")
		}
		if user != "" || password != "" {
			cfg.StoreURL = fmt.Sprintf("redis://%s:%s@%s", user, password, host)
		} else {
			cfg.StoreURL = fmt.Sprintf("redis://%s", host)
		}
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	return cfg, nil
}

// fileConfig is the optional YAML overlay read by LoadFile, in the
// teacher's internal/config style of a small top-level settings struct
// decoded with gopkg.in/yaml.v3. Every field is optional; a zero value
// means "don't override what Load resolved from the environment".
type fileConfig struct {
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoadFile reads path as a YAML overlay and applies any fields it sets on
// top of cfg. A missing file is not an error — callers pass an optional
// -config flag, and most deployments rely on environment variables alone.
func (cfg *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.ListenAddr != "" {
		cfg.ListenAddr = fc.ListenAddr
	}
	if len(fc.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = fc.AllowedOrigins
	}
	return nil
}
