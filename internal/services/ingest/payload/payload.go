// Package payload holds adapter shims for the ingest ports.
package payload

import (
	"io"
	"time"

	"gedigo/internal/adapters/archive/lpdaac"
	"gedigo/internal/modkit"
	"gedigo/internal/services/ingest/domain"
)

// NewFetcher constructs a domain.Fetcher from config under CORE_ARCHIVE_*.
// This keeps config-reading outside service and avoids passing platform deps into repos
func NewFetcher(deps modkit.Deps) domain.Fetcher {
	ar := deps.Cfg.Prefix("CORE_ARCHIVE_")

	cacheDir := ar.MustString("CACHE_DIR")
	token := ar.MayString("TOKEN", "")
	retainDays := ar.MayInt("RETAIN_MAX_DAYS", 0)
	retainBytes := int64(ar.MayInt("RETAIN_MAX_BYTES", 0))
	integrityTries := ar.MayInt("INTEGRITY_RETRIES", 2)

	httpTO := time.Duration(ar.MayInt("HTTP_TIMEOUT_SECONDS", 0)) * time.Second // 0 == no client timeout

	return lpdaac.NewCachedFetcher(
		cacheDir,
		lpdaac.NewHTTPFetcher(httpTO, token),
		lpdaac.WithRetention(time.Duration(retainDays)*24*time.Hour, retainBytes),
		lpdaac.WithIntegrityRetries(integrityTries),
	)
}

// NewReaderFactory returns a factory that wraps lpdaac.NewReader
func NewReaderFactory() domain.ReaderFactory {
	return func(rc io.ReadCloser) (domain.ShotReader, error) {
		return lpdaac.NewReader(rc)
	}
}
