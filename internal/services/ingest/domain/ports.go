package domain

import (
	"context"
	"io"

	"gedigo/internal/adapters/archive/lpdaac"
)

// RunnerPort is the module's public surface
type RunnerPort interface {
	// RunGranule ingests one granule under the given filter spec.
	// It is idempotent and safe to call concurrently for the same granule:
	// the lease serializes runs and completed work is detected and skipped
	RunGranule(ctx context.Context, ref GranuleRef, spec FilterSpec) error

	// RunGranules fans RunGranule out over a bounded worker pool and
	// reports partial success instead of failing the whole set
	RunGranules(ctx context.Context, refs []GranuleRef, spec FilterSpec) Report
}

// StorageRepo is the ledger plus shot sink
type StorageRepo interface {
	// UpsertGranules refreshes the catalog cache rows for the refs
	UpsertGranules(ctx context.Context, refs []GranuleRef) error

	// StartGranule opens (or reopens) a ledger entry for this run.
	// A checksum change against the stored row resets prior progress
	StartGranule(ctx context.Context, ref GranuleRef, fingerprint string, spec FilterSpec) error

	// Checkpoint returns the last committed batch position, if any
	Checkpoint(ctx context.Context, granuleID string) (Progress, bool, error)

	// UpsertShots writes one batch and advances the checkpoint in the
	// same transaction. Returns inserted and updated row counts
	UpsertShots(ctx context.Context, granuleID string, seq int64, lastOffset int64, shots []Shot) (int, int, error)

	// RecordFetch upserts the durable fetch record for the granule
	RecordFetch(ctx context.Context, granuleID string, st FetchState) error

	// FinishGranule seals the ledger entry for this run
	FinishGranule(ctx context.Context, granuleID string, fin GranuleFinish) error

	// CompletedIngests lists prior completed runs with their filter specs,
	// newest first
	CompletedIngests(ctx context.Context, granuleID string) ([]CompletedIngest, error)
}

// FileRefOf projects a catalog hit onto the fetcher's file shape
func FileRefOf(g GranuleRef) lpdaac.FileRef {
	return lpdaac.FileRef{Name: g.Name, URL: g.URL, SHA256: g.SHA256}
}

// Fetcher materializes a granule payload as a readable stream
type Fetcher interface {
	Fetch(ctx context.Context, ref lpdaac.FileRef) (io.ReadCloser, error)
}

// CacheInspector is optionally implemented by fetchers that keep payloads
// on disk; it lets the ledger record cache hits and local paths
type CacheInspector interface {
	Cached(ref lpdaac.FileRef) (path string, size int64, ok bool)
}

// ShotReader iterates decoded shot records with their byte offsets
type ShotReader interface {
	Next() (lpdaac.ShotRecord, int64, error)
	Skip(n int64) error
	Stats() (shots int, bytes int64)
	Close() error
}

// ReaderFactory opens a ShotReader over a fetched payload
type ReaderFactory func(rc io.ReadCloser) (ShotReader, error)
