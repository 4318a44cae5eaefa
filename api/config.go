package api

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
)

// RateLimits carries the per-endpoint limiter policies. Create and join run
// against independent counter tables so a burst of joins cannot starve
// session creation, and vice versa.
type RateLimits struct {
	CreateMax    int           `env:"RATE_LIMIT_CREATE_MAX" envDefault:"10"`
	CreateWindow time.Duration `env:"RATE_LIMIT_CREATE_WINDOW" envDefault:"1m"`
	JoinMax      int           `env:"RATE_LIMIT_JOIN_MAX" envDefault:"30"`
	JoinWindow   time.Duration `env:"RATE_LIMIT_JOIN_WINDOW" envDefault:"1m"`
}

func defaultRateLimits() RateLimits {
	return RateLimits{
		CreateMax:    10,
		CreateWindow: time.Minute,
		JoinMax:      30,
		JoinWindow:   time.Minute,
	}
}

// RateLimitsFromEnv loads limiter settings from RATE_LIMIT_* environment
// variables. Unset or unparseable variables fall back to the built-in
// policy, so the result is always usable.
func RateLimitsFromEnv() RateLimits {
	limits := RateLimits{}
	if err := env.Parse(&limits); err != nil {
		log.Printf("api: failed to parse rate limits from environment, using defaults: %v", err)
		return defaultRateLimits()
	}

	def := defaultRateLimits()
	if limits.CreateMax <= 0 {
		limits.CreateMax = def.CreateMax
	}
	if limits.CreateWindow <= 0 {
		limits.CreateWindow = def.CreateWindow
	}
	if limits.JoinMax <= 0 {
		limits.JoinMax = def.JoinMax
	}
	if limits.JoinWindow <= 0 {
		limits.JoinWindow = def.JoinWindow
	}
	return limits
}
