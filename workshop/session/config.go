package session

import (
	"log"

	"github.com/caarlos0/env/v11"
)

// Hard limits applied to caller-supplied configuration. Values above these
// are clamped rather than rejected.
const (
	maxParticipantsLimit = 100
	maxTimeoutMinutes    = 1440 // 24h
)

func builtinDefaults() Config {
	return Config{
		MaxParticipants: 10,
		TimeoutMinutes:  30,
		DeckType:        "values",
	}
}

// DefaultConfigFromEnv loads the server-wide default session configuration
// from SESSION_* environment variables. Unset or unparseable variables fall
// back to the built-in defaults, so the result is always usable.
func DefaultConfigFromEnv() Config {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		log.Printf("session: failed to parse config from environment, using defaults: %v", err)
		return builtinDefaults()
	}

	def := builtinDefaults()
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = def.MaxParticipants
	}
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = def.TimeoutMinutes
	}
	if cfg.DeckType == "" {
		cfg.DeckType = def.DeckType
	}
	return cfg.clamped()
}

// WithDefaults fills zero-valued fields of c from defaults and clamps the
// result to the hard limits. Request bodies pass through here so a partial
// or missing config block always yields a complete one.
func (c Config) WithDefaults(defaults Config) Config {
	if c.MaxParticipants <= 0 {
		c.MaxParticipants = defaults.MaxParticipants
	}
	if c.TimeoutMinutes <= 0 {
		c.TimeoutMinutes = defaults.TimeoutMinutes
	}
	if c.DeckType == "" {
		c.DeckType = defaults.DeckType
	}
	return c.clamped()
}

func (c Config) clamped() Config {
	if c.MaxParticipants > maxParticipantsLimit {
		c.MaxParticipants = maxParticipantsLimit
	}
	if c.TimeoutMinutes > maxTimeoutMinutes {
		c.TimeoutMinutes = maxTimeoutMinutes
	}
	return c
}
