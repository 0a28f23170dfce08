package module

import (
	"time"

	"gedigo/internal/platform/config"
)

// Options holds configuration options for the catalog service
type Options struct {
	Provider    string
	PageSize    int
	MaxRetries  int
	RetryBase   time.Duration
	TileJobs    int
	HTTPTimeout time.Duration
}

// FromConfig reads the catalog options from config with CORE_CATALOG_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("CORE_CATALOG_")
	return Options{
		Provider:    c.MayString("PROVIDER", ""),
		PageSize:    c.MayInt("PAGE_SIZE", 500),
		MaxRetries:  c.MayInt("RETRIES", 3),
		RetryBase:   c.MayDuration("RETRY_BASE", 500*time.Millisecond),
		TileJobs:    c.MayInt("TILE_JOBS", 4),
		HTTPTimeout: c.MayDuration("HTTP_TIMEOUT", 30*time.Second),
	}
}
