// Package config centralizes the session core's configuration surface
// (spec.md §6). FromEnv overlays environment variables here; flags are
// parsed in main.go, in the same style as the teacher's flag.Int/os.Getenv
// wiring — how it is sourced is explicitly out of scope for the core.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is every knob the session core consumes.
type Config struct {
	// StateDir is where per-session checkpoint files live.
	StateDir string
	// BufferCapacity is the number of bytes retained per session ring.
	BufferCapacity int
	// SaveInterval is both the dirty-flush period and the staleness
	// threshold used by Record.NeedsSaving.
	SaveInterval time.Duration
	// CleanupInterval is the minimum spacing between eviction sweeps.
	CleanupInterval time.Duration
	// MaxInactiveAge is the stale-session threshold for eviction.
	MaxInactiveAge time.Duration
	// SoftSessionCap triggers capacity-driven eviction once exceeded.
	SoftSessionCap int
	// ReplayChunkSize is the max OUTPUT payload size during replay.
	ReplayChunkSize int
	// ReplayYield is the minimum pause between replay frames so the
	// transport can drain (spec.md §4.F step 5).
	ReplayYield time.Duration

	// ListenAddr is the HTTP listen address for the transport glue
	// (ambient — outside the specified core, but needed to run the server).
	ListenAddr string
	// DefaultShell is used when a session is created without an explicit
	// command.
	DefaultShell string
}

// Default returns the configuration surface's documented defaults
// (spec.md §6's table).
func Default() Config {
	return Config{
		StateDir:        "/tmp/cmdr-sessions",
		BufferCapacity:  1048576,
		SaveInterval:    30 * time.Second,
		CleanupInterval: 3600 * time.Second,
		MaxInactiveAge:  604800 * time.Second,
		SoftSessionCap:  100,
		ReplayChunkSize: 8192,
		ReplayYield:     time.Millisecond,
		ListenAddr:      ":8080",
		DefaultShell:    defaultShellFromEnv(),
	}
}

func defaultShellFromEnv() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// FromEnv overlays environment variables onto cfg, mirroring main.go's
// godotenv + os.Getenv pattern in the teacher. Unset variables leave the
// existing value (typically the default) untouched.
func FromEnv(cfg Config) Config {
	if v := os.Getenv("CMDR_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("CMDR_BUFFER_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.BufferCapacity = n
		}
	}
	if v := os.Getenv("CMDR_SAVE_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SaveInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CMDR_CLEANUP_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CleanupInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CMDR_MAX_INACTIVE_AGE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxInactiveAge = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("CMDR_SOFT_SESSION_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SoftSessionCap = n
		}
	}
	if v := os.Getenv("CMDR_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	return cfg
}
