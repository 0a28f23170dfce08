// Package service provides the request orchestrator implementation
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"gedigo/internal/core/granule"
	"gedigo/internal/modkit/repokit"
	perr "gedigo/internal/platform/errors"
	"gedigo/internal/platform/logger"
	catalogdom "gedigo/internal/services/catalog/domain"
	ingestdom "gedigo/internal/services/ingest/domain"
	"gedigo/internal/services/requests/domain"
)

// Config holds configuration options for the orchestrator
type Config struct {
	// Workers bounds parallel granules within one request; <=0 -> 1
	Workers int

	// PollInterval paces the claim loop when no requests are pending
	PollInterval time.Duration
}

// Service implements domain.OrchestratorPort
type Service struct {
	DB       repokit.TxRunner
	Binder   repokit.Binder[domain.StorageRepo]
	Resolver catalogdom.ResolverPort
	Runner   ingestdom.RunnerPort

	// IngestStore gives the orchestrator read access to the granule ledger
	// and write access to the catalog cache
	IngestStore repokit.Binder[ingestdom.StorageRepo]

	Cfg Config
}

// New constructs the orchestrator service
func New(
	db repokit.TxRunner,
	binder repokit.Binder[domain.StorageRepo],
	resolver catalogdom.ResolverPort,
	runner ingestdom.RunnerPort,
	ingestStore repokit.Binder[ingestdom.StorageRepo],
	cfg Config,
) *Service {
	if db == nil {
		panic("requests.Service requires a non nil TxRunner")
	}
	if binder == nil {
		panic("requests.Service requires a non nil Repo binder")
	}
	if resolver == nil {
		panic("requests.Service requires a catalog resolver")
	}
	if runner == nil {
		panic("requests.Service requires an ingest runner")
	}
	if ingestStore == nil {
		panic("requests.Service requires the ingest storage binder")
	}
	return &Service{DB: db, Binder: binder, Resolver: resolver, Runner: runner, IngestStore: ingestStore, Cfg: cfg}
}

// Submit resolves the catalog and seeds the request in pending state.
// Granules whose prior completed ingests already cover the filters are
// seeded as skipped, so pollers see them accounted for immediately
func (s *Service) Submit(ctx context.Context, in domain.SubmitInput) (domain.Request, error) {
	var req domain.Request

	products := make([]granule.Product, 0, len(in.Products))
	for _, p := range in.Products {
		gp := granule.Product(p)
		if !gp.Valid() {
			return req, perr.InvalidArgf("requests: unknown product %q", p)
		}
		products = append(products, gp)
	}
	filters, err := in.Filters.Compile()
	if err != nil {
		return req, err
	}

	q := catalogdom.Query{
		Products:              products,
		Version:               in.Version,
		Start:                 filters.Start,
		End:                   filters.End,
		RequireCompleteOrbits: in.RequireCompleteOrbits,
	}
	if filters.HasRegion {
		q.Region = filters.Region
	}
	refs, err := s.Resolver.Resolve(ctx, q)
	if err != nil {
		return req, err
	}

	req = domain.Request{
		ID:                    uuid.NewString(),
		Status:                domain.StatusPending,
		Products:              products,
		Version:               in.Version,
		Filters:               in.Filters,
		RequireCompleteOrbits: in.RequireCompleteOrbits,
		SubmittedAt:           time.Now().UTC(),
	}

	err = s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		if err := s.Binder.Bind(qr).InsertRequest(ctx, req); err != nil {
			return err
		}
		if err := s.IngestStore.Bind(qr).UpsertGranules(ctx, refs); err != nil {
			return err
		}
		return s.Binder.Bind(qr).SeedGranules(ctx, req.ID, refs)
	})
	if err != nil {
		return domain.Request{}, err
	}

	// pre-mark covered granules so a fully-covered request polls as done work
	s.preMarkCovered(ctx, req.ID, refs, in.Filters)

	logger.C(ctx).Info().
		Str("request", req.ID).
		Int("granules", len(refs)).
		Msg("requests: submitted")
	return req, nil
}

// preMarkCovered is best-effort; anything left pending is re-checked by the
// ingest service at run time
func (s *Service) preMarkCovered(ctx context.Context, id string, refs []ingestdom.GranuleRef, spec ingestdom.FilterSpec) {
	fp := spec.Fingerprint()
	for _, ref := range refs {
		var covered bool
		err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
			runs, err := s.IngestStore.Bind(qr).CompletedIngests(ctx, ref.ID)
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
		if err != nil {
			logger.C(ctx).Warn().Err(err).Str("granule", ref.ID).Msg("requests: coverage check failed")
			continue
		}
		if !covered {
			continue
		}
		_ = s.DB.Tx(ctx, func(qr repokit.Queryer) error {
			return s.Binder.Bind(qr).SetOutcome(ctx, id, ref.ID, domain.GranuleSkipped, "covered by prior ingest")
		})
	}
}

// Status returns the request with its manifest
func (s *Service) Status(ctx context.Context, id string) (domain.StatusOutput, error) {
	var out domain.StatusOutput
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		r := s.Binder.Bind(qr)
		req, ok, err := r.GetRequest(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return perr.NotFoundf("requests: %s not found", id)
		}
		outcomes, err := r.Outcomes(ctx, id)
		if err != nil {
			return err
		}
		out.Request = req
		out.Manifest = buildManifest(outcomes)
		return nil
	})
	return out, err
}

func buildManifest(outcomes []domain.Outcome) domain.Manifest {
	m := domain.Manifest{Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case domain.GranuleSucceeded:
			m.Succeeded = append(m.Succeeded, o.GranuleID)
		case domain.GranuleFailed:
			m.Failed = append(m.Failed, o)
		case domain.GranuleSkipped:
			m.Skipped = append(m.Skipped, o)
		default:
			m.Pending++
		}
	}
	return m
}

// Cancel stops a live request
func (s *Service) Cancel(ctx context.Context, id string) (domain.Request, error) {
	var req domain.Request
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		r := s.Binder.Bind(qr)
		ok, err := r.CancelRequest(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			got, found, err := r.GetRequest(ctx, id)
			if err != nil {
				return err
			}
			if !found {
				return perr.NotFoundf("requests: %s not found", id)
			}
			return perr.Conflictf("requests: %s already %s", id, got.Status)
		}
		got, _, err := r.GetRequest(ctx, id)
		req = got
		return err
	})
	return req, err
}

// Run claims and processes requests until ctx is done. With drain set it
// returns once no pending requests remain
func (s *Service) Run(ctx context.Context, drain bool) error {
	interval := s.Cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		req, ok, err := s.claimNext(ctx)
		if err != nil {
			logger.C(ctx).Error().Err(err).Msg("requests: claim failed")
			if se := sleepCtx(ctx, interval); se != nil {
				return se
			}
			continue
		}
		if !ok {
			if drain {
				return nil
			}
			if se := sleepCtx(ctx, interval); se != nil {
				return se
			}
			continue
		}
		if err := s.process(ctx, req); err != nil {
			logger.C(ctx).Error().Err(err).Str("request", req.ID).Msg("requests: processing failed")
		}
	}
}

// RunOne claims and processes a specific pending request
func (s *Service) RunOne(ctx context.Context, id string) error {
	var req domain.Request
	var ok bool
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		var e error
		req, ok, e = s.Binder.Bind(qr).ClaimByID(ctx, id)
		return e
	})
	if err != nil {
		return err
	}
	if !ok {
		return perr.Conflictf("requests: %s is not pending", id)
	}
	return s.process(ctx, req)
}

func (s *Service) claimNext(ctx context.Context) (domain.Request, bool, error) {
	var req domain.Request
	var ok bool
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		var e error
		req, ok, e = s.Binder.Bind(qr).ClaimNext(ctx)
		return e
	})
	return req, ok, err
}

// process runs every pending granule of the request through the ingest
// runner with partial-success semantics: one bad granule never fails the
// request, it just lands in the manifest
func (s *Service) process(ctx context.Context, req domain.Request) error {
	var refs []ingestdom.GranuleRef
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		var e error
		refs, e = s.Binder.Bind(qr).PendingRefs(ctx, req.ID)
		return e
	})
	if err != nil {
		finErr := s.finish(ctx, req.ID, domain.StatusCompleteWithError, err.Error())
		return errors.Join(err, finErr)
	}

	w := max(s.Cfg.Workers, 1)
	var anyFailed bool
	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan ingestdom.GranuleRef)

	worker := func() {
		defer wg.Done()
		for ref := range jobs {
			// cancellation between granules: stop scheduling, drain in-flight
			if cancelled, _ := s.isCancelled(ctx, req.ID); cancelled {
				continue
			}
			status, reason := classify(s.Runner.RunGranule(ctx, ref, req.Filters))
			mu.Lock()
			if status == domain.GranuleFailed {
				anyFailed = true
			}
			mu.Unlock()
			_ = s.DB.Tx(ctx, func(qr repokit.Queryer) error {
				return s.Binder.Bind(qr).SetOutcome(ctx, req.ID, ref.ID, status, reason)
			})
		}
	}

	for range w {
		wg.Add(1)
		go worker()
	}
	for _, ref := range refs {
		select {
		case <-ctx.Done():
		case jobs <- ref:
			continue
		}
		break
	}
	close(jobs)
	wg.Wait()

	if cancelled, err := s.isCancelled(ctx, req.ID); err == nil && cancelled {
		return nil // cancel already sealed the request
	}
	status := domain.StatusComplete
	if anyFailed {
		status = domain.StatusCompleteWithError
	}
	return s.finish(ctx, req.ID, status, "")
}

func classify(err error) (status, reason string) {
	switch {
	case err == nil:
		return domain.GranuleSucceeded, ""
	case errors.Is(err, ingestdom.ErrAlreadyIngested):
		return domain.GranuleSkipped, "covered by prior ingest"
	case perr.CodeOf(err) == perr.ErrorCodeNotFound:
		return domain.GranuleSkipped, "gone upstream"
	default:
		return domain.GranuleFailed, err.Error()
	}
}

func (s *Service) isCancelled(ctx context.Context, id string) (bool, error) {
	var cancelled bool
	err := s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		req, ok, err := s.Binder.Bind(qr).GetRequest(ctx, id)
		if err != nil {
			return err
		}
		cancelled = ok && req.Status == domain.StatusCancelled
		return nil
	})
	return cancelled, err
}

func (s *Service) finish(ctx context.Context, id, status, errText string) error {
	return s.DB.Tx(ctx, func(qr repokit.Queryer) error {
		return s.Binder.Bind(qr).FinishRequest(ctx, id, status, errText)
	})
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
