package module

import (
	"time"

	"gedigo/internal/platform/config"
)

// Options holds configuration options for the ingest service
type Options struct {
	Workers         int
	DelayPerGranule time.Duration
	MaxRetries      int
	RetryBase       time.Duration
	GranuleTimeout  time.Duration
	FetchTimeout    time.Duration
	ReadTimeout     time.Duration
	DBTimeout       time.Duration
	BatchSize       int
	EnableLeases    bool
	LeaseTTL        time.Duration
}

// FromConfig reads the ingest options from config with CORE_INGEST_ prefix
func FromConfig(cfg config.Conf) Options {
	ing := cfg.Prefix("CORE_INGEST_")
	return Options{
		Workers:         ing.MayInt("WORKERS", 4),
		DelayPerGranule: ing.MayDuration("DELAY", 0),
		MaxRetries:      ing.MayInt("RETRIES", 3),
		RetryBase:       ing.MayDuration("RETRY_BASE", 500*time.Millisecond),
		GranuleTimeout:  ing.MayDuration("GRANULE_TIMEOUT", 0),
		FetchTimeout:    ing.MayDuration("FETCH_TIMEOUT", 30*time.Minute),
		ReadTimeout:     ing.MayDuration("READ_TIMEOUT", 30*time.Minute),
		DBTimeout:       ing.MayDuration("DB_TIMEOUT", 0),
		BatchSize:       ing.MayInt("BATCH_SIZE", 2000),
		EnableLeases:    ing.MayBool("LEASES", true),
		LeaseTTL:        ing.MayDuration("LEASE_TTL", 30*time.Minute),
	}
}
