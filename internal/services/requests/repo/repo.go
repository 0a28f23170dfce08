// Package repo provides postgres access for the request ledger
package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gedigo/internal/core/granule"
	"gedigo/internal/modkit/repokit"
	ingestdom "gedigo/internal/services/ingest/domain"
	"gedigo/internal/services/requests/domain"
)

type (
	// PG is a Postgres binder for domain.StorageRepo
	PG      struct{}
	queries struct{ q repokit.Queryer }
)

// NewPG returns a Postgres binder for domain.StorageRepo
func NewPG() repokit.Binder[domain.StorageRepo] { return PG{} }

// Bind implements repokit.Binder
func (PG) Bind(q repokit.Queryer) domain.StorageRepo { return &queries{q: q} }

const requestCols = `
	request_id, status, products, version, filters,
	require_complete_orbits, submitted_at, started_at, finished_at,
	coalesce(error, '')
`

func scanRequest(row repokit.Row) (domain.Request, error) {
	var req domain.Request
	var products []string
	var filters []byte
	var started, finished sql.NullTime
	err := row.Scan(
		&req.ID, &req.Status, &products, &req.Version, &filters,
		&req.RequireCompleteOrbits, &req.SubmittedAt, &started, &finished,
		&req.ErrText,
	)
	if err != nil {
		return req, err
	}
	for _, p := range products {
		req.Products = append(req.Products, granule.Product(p))
	}
	if err := json.Unmarshal(filters, &req.Filters); err != nil {
		return req, err
	}
	if started.Valid {
		t := started.Time
		req.StartedAt = &t
	}
	if finished.Valid {
		t := finished.Time
		req.FinishedAt = &t
	}
	return req, nil
}

// InsertRequest records a new request in pending state
func (r *queries) InsertRequest(ctx context.Context, req domain.Request) error {
	filters, err := json.Marshal(req.Filters)
	if err != nil {
		return err
	}
	products := make([]string, len(req.Products))
	for i, p := range req.Products {
		products[i] = string(p)
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO ingest_requests (
			request_id, status, products, version, filters,
			require_complete_orbits, submitted_at
		)
		VALUES ($1, 'pending', $2, $3, $4, $5, now())
	`, req.ID, products, req.Version, filters, req.RequireCompleteOrbits)
	return err
}

// GetRequest fetches one request by id
func (r *queries) GetRequest(ctx context.Context, id string) (domain.Request, bool, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+requestCols+`
		FROM ingest_requests
		WHERE request_id = $1
	`, id)
	if err != nil {
		return domain.Request{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Request{}, false, rows.Err()
	}
	req, err := scanRequest(rows)
	if err != nil {
		return domain.Request{}, false, err
	}
	return req, true, rows.Err()
}

// staleClaim is how long a running request may go untouched before another
// worker may steal it. Granule leases and idempotent upserts make a double
// claim safe; this only unwedges requests whose worker died
const staleClaim = "15 minutes"

// ClaimNext claims the oldest pending request, skipping rows other workers
// hold. Running requests whose claim has gone stale are reclaimed so a worker
// crash never strands a request. ok is false when nothing is claimable
func (r *queries) ClaimNext(ctx context.Context) (domain.Request, bool, error) {
	return r.claim(ctx, `
		UPDATE ingest_requests SET status = 'running', started_at = now()
		WHERE request_id = (
			SELECT request_id FROM ingest_requests
			WHERE status = 'pending'
			   OR (status = 'running' AND started_at < now() - $1::interval)
			ORDER BY submitted_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+requestCols, staleClaim)
}

// ClaimByID claims one specific pending request
func (r *queries) ClaimByID(ctx context.Context, id string) (domain.Request, bool, error) {
	return r.claim(ctx, `
		UPDATE ingest_requests SET status = 'running', started_at = now()
		WHERE request_id = $1 AND status = 'pending'
		RETURNING `+requestCols, id)
}

func (r *queries) claim(ctx context.Context, sqlText string, args ...any) (domain.Request, bool, error) {
	rows, err := r.q.Query(ctx, sqlText, args...)
	if err != nil {
		return domain.Request{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return domain.Request{}, false, rows.Err()
	}
	req, err := scanRequest(rows)
	if err != nil {
		return domain.Request{}, false, err
	}
	return req, true, rows.Err()
}

// FinishRequest seals a request (idempotent)
func (r *queries) FinishRequest(ctx context.Context, id, status, errText string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE ingest_requests
		SET status = $2, finished_at = now(), error = NULLIF($3, '')
		WHERE request_id = $1 AND status = 'running'
	`, id, status, errText)
	return err
}

// CancelRequest flips a live request to cancelled and skips unstarted granules
func (r *queries) CancelRequest(ctx context.Context, id string) (bool, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE ingest_requests
		SET status = 'cancelled', finished_at = now()
		WHERE request_id = $1 AND status IN ('pending', 'running')
	`, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = r.q.Exec(ctx, `
		UPDATE request_granules
		SET status = 'skipped', reason = 'request cancelled', updated_at = now()
		WHERE request_id = $1 AND status = 'pending'
	`, id)
	return true, err
}

// SeedGranules records the request's granule set (idempotent)
func (r *queries) SeedGranules(ctx context.Context, id string, refs []ingestdom.GranuleRef) error {
	for _, g := range refs {
		if _, err := r.q.Exec(ctx, `
			INSERT INTO request_granules (request_id, granule_id, status, updated_at)
			VALUES ($1, $2, 'pending', now())
			ON CONFLICT (request_id, granule_id) DO NOTHING
		`, id, g.ID); err != nil {
			return fmt.Errorf("seed granule %s: %w", g.ID, err)
		}
	}
	return nil
}

// PendingRefs lists granules still to process, joined back to the catalog
// cache so the worker can fetch them
func (r *queries) PendingRefs(ctx context.Context, id string) ([]ingestdom.GranuleRef, error) {
	rows, err := r.q.Query(ctx, `
		SELECT g.granule_id, g.name, g.product, g.orbit, g.size_mb, g.url,
		       coalesce(g.sha256, ''), g.time_start, g.time_end, g.revision_id,
		       coalesce(g.bbox, ''), coalesce(g.polygon_wkt, '')
		FROM request_granules rg
		JOIN granules g ON g.granule_id = rg.granule_id
		WHERE rg.request_id = $1 AND rg.status = 'pending'
		ORDER BY g.time_start, g.granule_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ingestdom.GranuleRef
	for rows.Next() {
		var g ingestdom.GranuleRef
		var product string
		if err := rows.Scan(
			&g.ID, &g.Name, &product, &g.Orbit, &g.SizeMB, &g.URL,
			&g.SHA256, &g.TimeStart, &g.TimeEnd, &g.RevisionID,
			&g.BoundingBox, &g.PolygonWKT,
		); err != nil {
			return nil, err
		}
		g.Product = granule.Product(product)
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetOutcome records one granule's disposition (idempotent)
func (r *queries) SetOutcome(ctx context.Context, id, granuleID, status, reason string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE request_granules
		SET status = $3, reason = NULLIF($4, ''), updated_at = now()
		WHERE request_id = $1 AND granule_id = $2
	`, id, granuleID, status, reason)
	return err
}

// Outcomes lists every granule disposition for the request
func (r *queries) Outcomes(ctx context.Context, id string) ([]domain.Outcome, error) {
	rows, err := r.q.Query(ctx, `
		SELECT granule_id, status, coalesce(reason, '')
		FROM request_granules
		WHERE request_id = $1
		ORDER BY granule_id
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Outcome
	for rows.Next() {
		var o domain.Outcome
		if err := rows.Scan(&o.GranuleID, &o.Status, &o.Reason); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
