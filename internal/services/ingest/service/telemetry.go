package service

import (
	"context"
	"time"

	"gedigo/internal/platform/logger"
	"gedigo/internal/platform/store"
	"gedigo/internal/services/ingest/domain"
)

// TelemetrySink receives per-granule run summaries for analytics
type TelemetrySink interface {
	GranuleFinished(ctx context.Context, ref domain.GranuleRef, fin domain.GranuleFinish)
}

// CHTelemetry writes run summaries to the ingest_granule_runs table in
// ClickHouse. Writes are best-effort: a sink failure is logged, never
// propagated into the ingest path
type CHTelemetry struct {
	CH store.Clickhouse
}

// NewCHTelemetry returns a ClickHouse sink, or nil when ch is nil so the
// service can treat telemetry as disabled
func NewCHTelemetry(ch store.Clickhouse) *CHTelemetry {
	if ch == nil {
		return nil
	}
	return &CHTelemetry{CH: ch}
}

// GranuleFinished implements TelemetrySink
func (t *CHTelemetry) GranuleFinished(ctx context.Context, ref domain.GranuleRef, fin domain.GranuleFinish) {
	row := []any{
		ref.ID,
		string(ref.Product),
		ref.Orbit,
		fin.Status,
		uint8(boolToInt(fin.CacheHit)),
		uint64(fin.BytesUncompressed),
		uint64(fin.ShotsScanned),
		uint64(fin.ShotsKept),
		uint64(fin.Inserted),
		uint64(fin.Updated),
		uint32(fin.Batches),
		uint32(fin.FetchMS),
		uint32(fin.ReadMS),
		uint32(fin.DBMS),
		uint32(fin.ElapsedMS),
		fin.ErrText,
		time.Now().UTC(),
	}
	if err := t.CH.Insert(ctx, "ingest_granule_runs", [][]any{row}); err != nil {
		logger.C(ctx).Warn().Err(err).Str("granule", ref.ID).Msg("ingest: telemetry write failed")
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
