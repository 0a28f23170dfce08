package guardrails

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"gedigo/internal/modkit"
	"gedigo/internal/platform/store"
)

// ErrLeaseHeld signals another worker owns the granule already.
var ErrLeaseHeld = errors.New("ingest: granule lease already held")

// MakeGranuleLease returns a function that takes a per-granule lease in
// Postgres, runs do, and releases the lease afterwards. Each claim has an
// expiry so a crashed holder never wedges the granule: a later claim steals
// the row once expires_at has passed. If a live holder exists, ErrLeaseHeld
// is returned as a clean skip.
// It assumes the granule_leases table exists
func MakeGranuleLease(
	deps modkit.Deps,
	ttl time.Duration,
) func(ctx context.Context, granuleID string, do func(context.Context) error) error {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return func(ctx context.Context, granuleID string, do func(context.Context) error) error {
		owner := uuid.New()

		var claimed bool
		err := deps.PG.Tx(ctx, func(q store.RowQuerier) error {
			rows, err := q.Query(ctx, `
				insert into granule_leases (granule_id, owner_id, acquired_at, expires_at)
				values ($1, $2, now(), now() + $3::interval)
				on conflict (granule_id) do update
				set owner_id = excluded.owner_id,
				    acquired_at = excluded.acquired_at,
				    expires_at = excluded.expires_at
				where granule_leases.expires_at < now()
				returning true
			`, granuleID, owner, ttl.String())
			if err != nil {
				return err
			}
			defer rows.Close()
			if rows.Next() {
				claimed = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrLeaseHeld // clean skip
		}

		// release only our own claim; a stolen lease belongs to the thief
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = deps.PG.Tx(rctx, func(q store.RowQuerier) error {
				_, err := q.Exec(rctx, `
					delete from granule_leases
					where granule_id = $1 and owner_id = $2
				`, granuleID, owner)
				return err
			})
		}()

		return do(ctx)
	}
}
