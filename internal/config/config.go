// Package config builds the process configuration from the environment.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rwx-im/rwx-im/pkg/cache"
	"github.com/rwx-im/rwx-im/pkg/logging"
	"github.com/rwx-im/rwx-im/pkg/server"
)

const (
	// Location is the repository location, relative to the working directory.
	Location = "cache"

	// Addr is the bind address of the serving layer.
	Addr = server.DefaultAddr
)

// Environment variables read by FromEnv.
const (
	EnvLog       = "RWX_IM_LOG"
	EnvLogPretty = "RWX_IM_LOG_PRETTY"
	EnvRedisURL  = "REDIS_URL"
	EnvLookupTTL = "RWX_IM_LOOKUP_TTL"
)

// LookupFunc reads one environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Config is the process configuration.
type Config struct {
	Log logging.Config

	// Location of the cache repository.
	Location string

	// Server holds the serving layer settings. Server.Addr is always Addr.
	Server server.Config

	// RedisURL enables the shared Redis lookup layer when non-empty.
	RedisURL string

	// MemoryEntries bounds the in-process lookup layer.
	MemoryEntries int
}

// Default returns the configuration used when no variable is set.
func Default() Config {
	srv := server.DefaultConfig()
	srv.Addr = Addr

	return Config{
		Log:           logging.DefaultConfig(),
		Location:      Location,
		Server:        srv,
		MemoryEntries: cache.DefaultMemorySize,
	}
}

// FromEnv returns Default with the environment applied. Location and bind
// address are not configurable.
func FromEnv(lookup LookupFunc) (Config, error) {
	cfg := Default()

	if v, ok := lookup(EnvLog); ok {
		cfg.Log.Level = logging.LevelFromDirective(v, cfg.Log.Level)
	}

	if v, ok := lookup(EnvLogPretty); ok && v != "" {
		pretty, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLogPretty, err)
		}
		cfg.Log.Pretty = pretty
	}

	if v, ok := lookup(EnvRedisURL); ok {
		cfg.RedisURL = v
	}

	if v, ok := lookup(EnvLookupTTL); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvLookupTTL, err)
		}
		if ttl <= 0 {
			return Config{}, fmt.Errorf("%s must be positive (got %s)", EnvLookupTTL, ttl)
		}
		cfg.Server.LookupTTL = ttl
	}

	return cfg, nil
}
