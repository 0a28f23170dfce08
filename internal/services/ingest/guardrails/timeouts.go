// Package guardrails holds cross cutting safety helpers for ingest
package guardrails

import (
	"context"
	"time"
)

// Timeouts is an optional budget bundle for processing a single granule.
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Granule is the overall time budget for one granule end to end
	Granule time.Duration

	// Fetch caps the archive download step
	Fetch time.Duration

	// Read caps the gzip ndjson read and filter step
	Read time.Duration

	// DB caps each batch upsert
	DB time.Duration
}

// WithGranule returns a context limited by the granule budget without extending any parent deadline.
// if Granule is zero it returns a cancelable child that simply inherits the parent deadline
func WithGranule(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Granule)
}

// ForFetch returns a sub context for the fetch phase bounded by Fetch and any remaining parent budget
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForRead returns a sub context for the read phase bounded by Read and any remaining parent budget
func ForRead(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Read)
}

// ForDB returns a sub context for the db phase bounded by DB and any remaining parent budget
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of the requested duration and any parent remainder.
// Never extends the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
