package module

import (
	"time"

	"gedigo/internal/platform/config"
)

// Options holds configuration options for the orchestrator
type Options struct {
	Workers      int
	PollInterval time.Duration
}

// FromConfig reads the orchestrator options from config with CORE_REQUESTS_ prefix
func FromConfig(cfg config.Conf) Options {
	rq := cfg.Prefix("CORE_REQUESTS_")
	return Options{
		Workers:      rq.MayInt("WORKERS", 2),
		PollInterval: rq.MayDuration("POLL_INTERVAL", 5*time.Second),
	}
}
