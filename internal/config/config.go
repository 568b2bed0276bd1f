// Package config loads Captain's runtime configuration from environment
// variables via struct tags, following the pack's caarlos0/env convention.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full set of environment-driven settings for the captain
// serve command.
type Config struct {
	// ListenHost/ListenPort is the HTTP ingress bind address.
	ListenHost string `env:"CAPTAIN_HOST" envDefault:"0.0.0.0"`
	ListenPort int    `env:"CAPTAIN_PORT" envDefault:"8080"`

	// DataDir holds the captain/ subdirectory (crew.json, chores.json,
	// users.json) and the discovery file captain.json.
	DataDir string `env:"CAPTAIN_DATA_DIR" envDefault:"./data"`

	// TickSeconds is the control loop's scheduling period.
	TickSeconds int `env:"CAPTAIN_TICK_SECONDS" envDefault:"2"`

	// HeartbeatTimeoutSeconds is how long a sailor may go silent before it
	// is considered DOWN.
	HeartbeatTimeoutSeconds int `env:"CAPTAIN_HEARTBEAT_TIMEOUT_SECONDS" envDefault:"60"`

	// SailorRPCTimeoutSeconds is the per-call deadline for outbound
	// assign/cancel RPCs to a sailor.
	SailorRPCTimeoutSeconds int `env:"CAPTAIN_SAILOR_RPC_TIMEOUT_SECONDS" envDefault:"5"`

	LogLevel             string `env:"CAPTAIN_LOG_LEVEL" envDefault:"info"`
	LogJSON              bool   `env:"CAPTAIN_LOG_JSON" envDefault:"true"`
	ShutdownGraceSeconds int    `env:"CAPTAIN_SHUTDOWN_GRACE_SECONDS" envDefault:"10"`
}

// Load parses Config from the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
