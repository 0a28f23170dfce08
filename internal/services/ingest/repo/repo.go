// Package repo provides postgres access for the granule ingest ledger,
// fetch records, and shot writes
package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"gedigo/internal/modkit/repokit"
	"gedigo/internal/services/ingest/domain"
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

// UpsertGranules refreshes the catalog cache rows (idempotent)
func (r *queries) UpsertGranules(ctx context.Context, refs []domain.GranuleRef) error {
	const sql = `
		INSERT INTO granules (
			granule_id, name, product, orbit, size_mb, url, sha256,
			time_start, time_end, revision_id, bbox, polygon_wkt, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (granule_id) DO UPDATE SET
			url = excluded.url,
			sha256 = excluded.sha256,
			revision_id = excluded.revision_id,
			updated_at = now()
	`
	for _, g := range refs {
		if _, err := r.q.Exec(ctx, sql,
			g.ID, g.Name, string(g.Product), g.Orbit, g.SizeMB, g.URL, g.SHA256,
			g.TimeStart, g.TimeEnd, g.RevisionID, g.BoundingBox, g.PolygonWKT,
		); err != nil {
			return fmt.Errorf("upsert granule %s: %w", g.ID, err)
		}
	}
	return nil
}

// StartGranule opens a ledger entry (idempotent). Progress is kept only when
// both the archive checksum and the filter fingerprint match the stored row;
// a republished granule or a different filter set restarts from offset zero
func (r *queries) StartGranule(
	ctx context.Context,
	ref domain.GranuleRef,
	fingerprint string,
	spec domain.FilterSpec,
) error {
	filters, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO granule_ingest (
			granule_id, sha256, fingerprint, filters,
			status, started_at, last_batch_seq, last_shot_offset
		)
		VALUES ($1, $2, $3, $4, 'in_progress', now(), 0, 0)
		ON CONFLICT (granule_id) DO UPDATE SET
			status = 'in_progress',
			started_at = now(),
			finished_at = null,
			error = null,
			last_batch_seq = CASE
				WHEN granule_ingest.sha256 = excluded.sha256
				 AND granule_ingest.fingerprint = excluded.fingerprint
				THEN granule_ingest.last_batch_seq ELSE 0 END,
			last_shot_offset = CASE
				WHEN granule_ingest.sha256 = excluded.sha256
				 AND granule_ingest.fingerprint = excluded.fingerprint
				THEN granule_ingest.last_shot_offset ELSE 0 END,
			sha256 = excluded.sha256,
			fingerprint = excluded.fingerprint,
			filters = excluded.filters
	`, ref.ID, ref.SHA256, fingerprint, filters)
	return err
}

// Checkpoint returns the last committed batch position; found is false when
// no batch has committed yet
func (r *queries) Checkpoint(ctx context.Context, granuleID string) (domain.Progress, bool, error) {
	var p domain.Progress
	rows, err := r.q.Query(ctx, `
		SELECT last_batch_seq, last_shot_offset
		FROM granule_ingest
		WHERE granule_id = $1
	`, granuleID)
	if err != nil {
		return p, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return p, false, rows.Err()
	}
	if err := rows.Scan(&p.BatchSeq, &p.ShotOffset); err != nil {
		return p, false, err
	}
	return p, p.BatchSeq > 0, rows.Err()
}

// UpsertShots writes one batch and advances the checkpoint. Run it inside a
// transaction so the batch and its ledger position commit atomically
func (r *queries) UpsertShots(
	ctx context.Context,
	granuleID string,
	seq int64,
	lastOffset int64,
	shots []domain.Shot,
) (int, int, error) {
	const upsertSQL = `
		INSERT INTO shots (
			granule_id, shot_offset, shot_number, beam,
			geom, acquired_at, metrics
		)
		VALUES ($1, $2, $3, $4, ST_SetSRID(ST_MakePoint($5, $6), 4326), $7, $8)
		ON CONFLICT (granule_id, shot_offset) DO UPDATE SET
			shot_number = excluded.shot_number,
			beam = excluded.beam,
			geom = excluded.geom,
			acquired_at = excluded.acquired_at,
			metrics = excluded.metrics
		RETURNING (xmax = 0) AS inserted
	`

	inserted, updated := 0, 0
	for _, s := range shots {
		metrics, err := json.Marshal(s.Columns)
		if err != nil {
			return inserted, updated, err
		}
		var isInsert bool
		err = r.q.QueryRow(ctx, upsertSQL,
			s.GranuleID, s.ShotOffset, int64(s.ShotNumber), s.Beam,
			s.Lon, s.Lat, s.AcquiredAt.UTC(), metrics,
		).Scan(&isInsert)
		if err != nil {
			return inserted, updated, fmt.Errorf("upsert shot %s/%d: %w", s.GranuleID, s.ShotOffset, err)
		}
		if isInsert {
			inserted++
		} else {
			updated++
		}
	}

	// checkpoint moves forward only; a stale retry can never rewind it
	if _, err := r.q.Exec(ctx, `
		UPDATE granule_ingest
		SET last_batch_seq = $2, last_shot_offset = $3
		WHERE granule_id = $1 AND (last_batch_seq, last_shot_offset) < ($2, $3)
	`, granuleID, seq, lastOffset); err != nil {
		return inserted, updated, err
	}
	return inserted, updated, nil
}

// RecordFetch upserts the durable fetch record (idempotent)
func (r *queries) RecordFetch(ctx context.Context, granuleID string, st domain.FetchState) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO fetch_records (granule_id, status, bytes_fetched, local_path, sha256, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), now())
		ON CONFLICT (granule_id) DO UPDATE SET
			status = excluded.status,
			bytes_fetched = excluded.bytes_fetched,
			local_path = excluded.local_path,
			sha256 = excluded.sha256,
			error = excluded.error,
			updated_at = now()
	`, granuleID, st.Status, st.BytesFetched, st.LocalPath, st.SHA256, st.ErrText)
	return err
}

// FinishGranule seals the ledger entry (idempotent). A completed run is also
// appended to the run history that later requests consult for coverage
func (r *queries) FinishGranule(ctx context.Context, granuleID string, fin domain.GranuleFinish) error {
	_, err := r.q.Exec(ctx, `
		UPDATE granule_ingest SET
			finished_at = now(),
			status = $2,
			cache_hit = $3,
			bytes_uncompressed = $4,
			shots_scanned = $5,
			shots_kept = $6,
			inserted = $7,
			updated = $8,
			batches = $9,
			fetch_ms = $10,
			read_ms = $11,
			db_ms = $12,
			elapsed_ms = $13,
			error = NULLIF($14,'')
		WHERE granule_id = $1
	`,
		granuleID, fin.Status, fin.CacheHit, fin.BytesUncompressed, fin.ShotsScanned, fin.ShotsKept,
		fin.Inserted, fin.Updated, fin.Batches, fin.FetchMS, fin.ReadMS, fin.DBMS, fin.ElapsedMS, fin.ErrText,
	)
	if err != nil {
		return err
	}
	if fin.Status != domain.StatusComplete {
		return nil
	}
	_, err = r.q.Exec(ctx, `
		INSERT INTO granule_ingest_runs (granule_id, fingerprint, filters, finished_at)
		SELECT granule_id, fingerprint, filters, now()
		FROM granule_ingest
		WHERE granule_id = $1
	`, granuleID)
	return err
}

// CompletedIngests lists prior completed runs for the granule, newest first
func (r *queries) CompletedIngests(ctx context.Context, granuleID string) ([]domain.CompletedIngest, error) {
	rows, err := r.q.Query(ctx, `
		SELECT fingerprint, filters, finished_at
		FROM granule_ingest_runs
		WHERE granule_id = $1
		ORDER BY finished_at DESC
	`, granuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CompletedIngest
	for rows.Next() {
		var ci domain.CompletedIngest
		var filters []byte
		if err := rows.Scan(&ci.Fingerprint, &filters, &ci.FinishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(filters, &ci.Spec); err != nil {
			return nil, err
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}
