// Package service provides the granule ingest service implementation
package service

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"syscall"
	"time"

	"gedigo/internal/modkit/repokit"
	perr "gedigo/internal/platform/errors"
	"gedigo/internal/platform/logger"
	"gedigo/internal/services/ingest/domain"
	"gedigo/internal/services/ingest/extract"
	"gedigo/internal/services/ingest/guardrails"
)

// Config holds configuration options for the ingest service
type Config struct {
	// Concurrency & pacing
	Workers         int           // parallel granules; <=0 -> 1
	DelayPerGranule time.Duration // optional sleep after each granule (per worker)

	// Granule-level retry
	MaxRetries int           // attempts per granule; <=0 -> 1
	RetryBase  time.Duration // base backoff; <=0 -> 500ms

	// Timeouts applied via guardrails
	GranuleTimeout time.Duration
	FetchTimeout   time.Duration
	ReadTimeout    time.Duration
	DBTimeout      time.Duration

	// BatchSize is shots per committed batch; 0 -> default
	BatchSize int

	// Distributed lease per granule (optional)
	EnableLeases bool
}

const defaultBatchSize = 2000

// Service implements domain.RunnerPort
type Service struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[domain.StorageRepo]
	Fetch  domain.Fetcher
	Reader domain.ReaderFactory
	Cfg    Config

	// Lease(ctx, granuleID, do) serializes ingest per granule across workers
	Lease func(ctx context.Context, granuleID string, do func(context.Context) error) error

	// Telemetry is an optional per-granule analytics sink; nil disables it
	Telemetry TelemetrySink
}

// New constructs the ingest service
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.StorageRepo],
	f domain.Fetcher,
	rf domain.ReaderFactory,
	cfg Config,
	lease func(context.Context, string, func(context.Context) error) error,
	tel TelemetrySink,
) *Service {
	if db == nil {
		panic("ingest.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("ingest.Service requires a non nil Repo binder")
	}
	if f == nil {
		panic("ingest.Service requires a non nil Fetcher")
	}
	if rf == nil {
		panic("ingest.Service requires a non nil ReaderFactory")
	}
	return &Service{DB: db, Binder: binder, Fetch: f, Reader: rf, Cfg: cfg, Lease: lease, Telemetry: tel}
}

// RunGranules fans granules out over a bounded worker pool with
// partial-success reporting. One failed granule never aborts the rest
func (s *Service) RunGranules(ctx context.Context, refs []domain.GranuleRef, spec domain.FilterSpec) domain.Report {
	rep := domain.Report{Failed: map[string]string{}}
	if len(refs) == 0 {
		return rep
	}

	w := max(s.Cfg.Workers, 1)
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan domain.GranuleRef)

	worker := func() {
		defer wg.Done()
		for ref := range jobs {
			err := s.RunGranule(ctx, ref, spec)
			mu.Lock()
			switch {
			case err == nil:
				rep.Succeeded = append(rep.Succeeded, ref.ID)
			case errors.Is(err, domain.ErrAlreadyIngested), perr.CodeOf(err) == perr.ErrorCodeNotFound:
				rep.Skipped = append(rep.Skipped, ref.ID)
			default:
				rep.Failed[ref.ID] = err.Error()
			}
			mu.Unlock()
			if s.Cfg.DelayPerGranule > 0 {
				_ = sleepCtx(ctx, s.Cfg.DelayPerGranule)
			}
		}
	}

	for range w {
		wg.Add(1)
		go worker()
	}
	for i, ref := range refs {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			mu.Lock()
			for _, rest := range refs[i:] {
				rep.Failed[rest.ID] = ctx.Err().Error()
			}
			mu.Unlock()
			return rep
		case jobs <- ref:
		}
	}
	close(jobs)
	wg.Wait()
	return rep
}

// RunGranule implements domain.RunnerPort with per-granule retry
func (s *Service) RunGranule(ctx context.Context, ref domain.GranuleRef, spec domain.FilterSpec) error {
	f, err := spec.Compile()
	if err != nil {
		return err
	}

	covered, err := s.alreadyCovered(ctx, ref.ID, spec)
	if err != nil {
		return err
	}
	if covered {
		logger.C(ctx).Debug().Str("granule", ref.ID).Msg("ingest: covered by prior run, skipping")
		return domain.ErrAlreadyIngested
	}

	attempts := max(s.Cfg.MaxRetries, 1)
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var last error
	for i := range attempts {
		err := s.runGranule(ctx, ref, spec, f)
		if err == nil {
			return nil
		}
		last = err

		if !perr.Retryable(err) {
			return last
		}
		if i == attempts-1 {
			break
		}

		// exponential backoff with jitter, cap at 30s
		d := min(base<<i, 30*time.Second)
		j := d/2 + time.Duration(rand.Int63n(int64(d/2)))
		if se := sleepCtx(ctx, j); se != nil {
			return se
		}
	}
	return last
}

// alreadyCovered consults the completed-run history for a spec that subsumes
// this one
func (s *Service) alreadyCovered(ctx context.Context, granuleID string, spec domain.FilterSpec) (bool, error) {
	fp := spec.Fingerprint()
	var covered bool
	err := s.DB.Tx(ctx, func(q repokit.Queryer) error {
		runs, err := s.Binder.Bind(q).CompletedIngests(ctx, granuleID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			if run.Fingerprint == fp || run.Spec.Covers(spec) {
				covered = true
				return nil
			}
		}
		return nil
	})
	return covered, err
}

func (s *Service) runGranule(ctx context.Context, ref domain.GranuleRef, spec domain.FilterSpec, f domain.Filters) error {
	if s.Lease != nil && s.Cfg.EnableLeases {
		err := s.Lease(ctx, ref.ID, func(ctx context.Context) error {
			return s.runGranuleUnlocked(ctx, ref, spec, f)
		})
		if errors.Is(err, guardrails.ErrLeaseHeld) {
			// another worker owns it right now; retryable contention
			return perr.LockTimeoutf("ingest: granule %s is leased elsewhere", ref.ID)
		}
		return err
	}
	return s.runGranuleUnlocked(ctx, ref, spec, f)
}

func (s *Service) runGranuleUnlocked(
	ctx context.Context,
	ref domain.GranuleRef,
	spec domain.FilterSpec,
	f domain.Filters,
) (retErr error) {
	tos := guardrails.Timeouts{
		Granule: s.Cfg.GranuleTimeout,
		Fetch:   s.Cfg.FetchTimeout,
		Read:    s.Cfg.ReadTimeout,
		DB:      s.Cfg.DBTimeout,
	}
	grCtx, grCancel := guardrails.WithGranule(ctx, tos)
	defer grCancel()

	startWall := time.Now()
	var fetchMS, readMS, dbMS int
	var cacheHit bool
	var scanned, kept, inserted, updated, batches int
	var bytesUncompressed int64
	var errText string

	// open the ledger entry; a checksum or fingerprint change resets progress
	{
		dbCtx, dbCancel := guardrails.ForDB(grCtx, tos)
		err := s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
			return s.Binder.Bind(q).StartGranule(dbCtx, ref, spec.Fingerprint(), spec)
		})
		dbCancel()
		if err != nil {
			return err
		}
	}

	// ensure the ledger is sealed whatever happens below
	defer func() {
		fin := domain.GranuleFinish{
			Status:            finishStatus(retErr),
			CacheHit:          cacheHit,
			BytesUncompressed: bytesUncompressed,
			ShotsScanned:      scanned,
			ShotsKept:         kept,
			Inserted:          inserted,
			Updated:           updated,
			Batches:           batches,
			FetchMS:           fetchMS,
			ReadMS:            readMS,
			DBMS:              dbMS,
			ElapsedMS:         int(time.Since(startWall).Milliseconds()),
			ErrText:           errText,
		}
		if retErr != nil && fin.ErrText == "" {
			fin.ErrText = retErr.Error()
		}
		dbCtx, dbCancel := guardrails.ForDB(context.WithoutCancel(grCtx), tos)
		_ = s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
			return s.Binder.Bind(q).FinishGranule(dbCtx, ref.ID, fin)
		})
		dbCancel()
		if s.Telemetry != nil {
			s.Telemetry.GranuleFinished(context.WithoutCancel(grCtx), ref, fin)
		}
	}()

	// resume point from the last committed batch
	var cp domain.Progress
	{
		dbCtx, dbCancel := guardrails.ForDB(grCtx, tos)
		err := s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
			p, ok, e := s.Binder.Bind(q).Checkpoint(dbCtx, ref.ID)
			if e != nil {
				return e
			}
			if ok {
				cp = p
			}
			return nil
		})
		dbCancel()
		if err != nil {
			return err
		}
	}

	fileRef := domain.FileRefOf(ref)
	if insp, ok := s.Fetch.(domain.CacheInspector); ok {
		_, _, cacheHit = insp.Cached(fileRef)
	}

	// fetch (timeoutable); the durable fetch record tracks each transition
	s.recordFetch(grCtx, tos, ref.ID, domain.FetchState{Status: "pending"})
	t0 := time.Now()
	fetchCtx, fetchCancel := guardrails.ForFetch(grCtx, tos)
	rc, err := s.Fetch.Fetch(fetchCtx, fileRef)
	fetchCancel()
	fetchMS = int(time.Since(t0).Milliseconds())
	if err != nil {
		if errors.Is(err, syscall.ENOSPC) {
			err = perr.Wrapf(err, perr.ErrorCodeQuotaExceeded, "ingest: local quota exhausted fetching %s", ref.ID)
		}
		st := domain.FetchState{Status: "failed", ErrText: err.Error()}
		if insp, ok := s.Fetch.(domain.CacheInspector); ok {
			path, n, _ := insp.Cached(fileRef)
			st.LocalPath, st.BytesFetched = path, n
			if n > 0 {
				st.Status = "partial"
			}
		}
		s.recordFetch(grCtx, tos, ref.ID, st)
		return err
	}
	{
		st := domain.FetchState{Status: "complete", SHA256: ref.SHA256}
		if insp, ok := s.Fetch.(domain.CacheInspector); ok {
			st.LocalPath, st.BytesFetched, _ = insp.Cached(fileRef)
		}
		s.recordFetch(grCtx, tos, ref.ID, st)
	}

	rd, err := s.Reader(rc)
	if err != nil {
		_ = rc.Close()
		return perr.MalformedGranulef("ingest: %s is not a readable payload: %v", ref.ID, err)
	}
	defer func() {
		if cerr := rd.Close(); cerr != nil && retErr == nil {
			retErr = cerr
		}
	}()

	if cp.ShotOffset > 0 {
		if err := rd.Skip(cp.ShotOffset + 1); err != nil && err != io.EOF {
			return perr.MalformedGranulef("ingest: %s truncated before resume offset %d: %v", ref.ID, cp.ShotOffset, err)
		}
		logger.C(ctx).Info().
			Str("granule", ref.ID).
			Int64("batch_seq", cp.BatchSeq).
			Int64("shot_offset", cp.ShotOffset).
			Msg("ingest: resuming from checkpoint")
	}

	// read, filter, and commit batches in order; the single goroutine per
	// granule keeps batch sequence numbers monotonic
	batchSize := s.Cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	seq := cp.BatchSeq
	batch := make([]domain.Shot, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		seq++
		t := time.Now()
		ins, upd, err := s.upsertBatchRobust(grCtx, tos, ref.ID, seq, batch)
		dbMS += int(time.Since(t).Milliseconds())
		inserted += ins
		updated += upd
		if err != nil {
			return err
		}
		batches++
		batch = batch[:0]
		return nil
	}

	t1 := time.Now()
	readCtx, readCancel := guardrails.ForRead(grCtx, tos)
	rerr := func() error {
		for {
			if err := readCtx.Err(); err != nil {
				return err
			}
			rec, off, e := rd.Next()
			if e == io.EOF {
				break
			}
			if e != nil {
				return perr.MalformedGranulef("ingest: %s shot stream broke at offset %d: %v", ref.ID, off, e)
			}
			scanned++
			shot, ok := extract.Shot(ref.ID, rec, off, f)
			if !ok {
				continue
			}
			kept++
			batch = append(batch, shot)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return err
				}
			}
		}
		return flush()
	}()
	readCancel()
	readMS = int(time.Since(t1).Milliseconds())
	if rerr != nil {
		return rerr
	}

	if decoded, b := rd.Stats(); decoded == 0 && cp.ShotOffset == 0 {
		// a payload that decodes to nothing is quarantined, not retried
		bytesUncompressed = b
		return perr.MalformedGranulef("ingest: %s yielded no decodable shots", ref.ID)
	}
	_, bytesUncompressed = rd.Stats()
	return nil
}

// upsertBatchRobust writes a batch with retries; if it still fails with a
// retryable error, it bisects and attempts each half. Guarantees eventual
// progress (down to size 1) for retryable failures
func (s *Service) upsertBatchRobust(
	ctx context.Context,
	tos guardrails.Timeouts,
	granuleID string,
	seq int64,
	batch []domain.Shot,
) (int, int, error) {
	if len(batch) == 0 {
		return 0, 0, nil
	}

	const maxAttempts = 4
	base := s.Cfg.RetryBase
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	lastOffset := batch[len(batch)-1].ShotOffset

	tryOnce := func(xs []domain.Shot, last int64) (int, int, error) {
		var ins, upd int
		dbCtx, dbCancel := guardrails.ForDB(ctx, tos)
		defer dbCancel()
		err := s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
			i, u, e := s.Binder.Bind(q).UpsertShots(dbCtx, granuleID, seq, last, xs)
			if e == nil {
				ins, upd = i, u
			}
			return e
		})
		return ins, upd, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ins, upd, err := tryOnce(batch, lastOffset)
		if err == nil {
			return ins, upd, nil
		}
		lastErr = err
		if !perr.Retryable(err) || attempt == maxAttempts {
			break
		}
		d := min(base<<(attempt-1), 10*time.Second)
		sleep := d/2 + time.Duration(rand.Int63n(int64(d/2)))
		if se := sleepCtx(ctx, sleep); se != nil {
			return 0, 0, err
		}
	}

	if !perr.Retryable(lastErr) {
		return 0, 0, lastErr
	}

	// retryable but flaky; bisect. Both halves commit under the same batch
	// sequence with increasing offsets, which the checkpoint guard allows
	if len(batch) == 1 {
		return 0, 0, lastErr
	}
	mid := len(batch) / 2
	lIns, lUpd, lErr := s.upsertBatchRobust(ctx, tos, granuleID, seq, batch[:mid])
	if lErr != nil {
		return lIns, lUpd, lErr
	}
	rIns, rUpd, rErr := s.upsertBatchRobust(ctx, tos, granuleID, seq, batch[mid:])
	return lIns + rIns, lUpd + rUpd, rErr
}

// recordFetch is best-effort; a ledger write failure never masks the fetch error
func (s *Service) recordFetch(ctx context.Context, tos guardrails.Timeouts, granuleID string, st domain.FetchState) {
	dbCtx, dbCancel := guardrails.ForDB(ctx, tos)
	defer dbCancel()
	err := s.DB.Tx(dbCtx, func(q repokit.Queryer) error {
		return s.Binder.Bind(q).RecordFetch(dbCtx, granuleID, st)
	})
	if err != nil {
		logger.C(ctx).Warn().Err(err).Str("granule", granuleID).Msg("ingest: fetch record write failed")
	}
}

func finishStatus(err error) string {
	switch {
	case err == nil:
		return domain.StatusComplete
	case perr.CodeOf(err) == perr.ErrorCodeMalformedGranule:
		return domain.StatusQuarantined
	case perr.CodeOf(err) == perr.ErrorCodeNotFound:
		return domain.StatusSkipped
	default:
		return domain.StatusFailed
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
