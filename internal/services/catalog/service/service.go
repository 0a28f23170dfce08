// Package service provides the granule catalog resolver
package service

import (
	"context"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gedigo/internal/adapters/archive/cmr"
	coregranule "gedigo/internal/core/granule"
	perr "gedigo/internal/platform/errors"
	"gedigo/internal/platform/logger"
	"gedigo/internal/services/catalog/domain"
)

// Config holds resolver tuning
type Config struct {
	PageSize   int           // per catalog page; 0 -> adapter default
	MaxRetries int           // attempts per page; <=0 -> 3
	RetryBase  time.Duration // base backoff; <=0 -> 500ms
	TileJobs   int           // concurrent tile queries; <=0 -> 4
}

// Service implements domain.ResolverPort
type Service struct {
	search domain.Searcher
	cfg    Config
}

// New constructs the resolver
func New(search domain.Searcher, cfg Config) *Service {
	if search == nil {
		panic("catalog.Service requires a non nil Searcher")
	}
	return &Service{search: search, cfg: cfg}
}

// Resolve fans one query out per (product, search region), merges the pages,
// and dedups by granule id. Regions over the API vertex cap are replaced by
// covering tiles, which is why overlapping sub-queries can return the same
// granule more than once
func (s *Service) Resolve(ctx context.Context, q domain.Query) ([]domain.Granule, error) {
	if len(q.Products) == 0 {
		return nil, perr.InvalidArgf("catalog: no products requested")
	}
	for _, p := range q.Products {
		if !p.Valid() {
			return nil, perr.InvalidArgf("catalog: unknown product %q", p)
		}
	}

	regions := q.Region.SearchRegions(0)

	var mu sync.Mutex
	seen := map[string]bool{}
	var out []domain.Granule

	jobs := s.cfg.TileJobs
	if jobs <= 0 {
		jobs = 4
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for _, product := range q.Products {
		for _, region := range regions {
			cq := cmr.Query{
				Product:  product,
				Version:  q.Version,
				Region:   region,
				Start:    q.Start,
				End:      q.End,
				PageSize: s.cfg.PageSize,
			}
			g.Go(func() error {
				refs, err := s.drain(gctx, cq)
				if err != nil {
					return err
				}
				mu.Lock()
				for _, r := range refs {
					if !seen[r.ID] {
						seen[r.ID] = true
						out = append(out, r)
					}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if q.RequireCompleteOrbits {
		out = filterCompleteOrbits(ctx, out, q.Products)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].TimeStart.Equal(out[j].TimeStart) {
			return out[i].TimeStart.Before(out[j].TimeStart)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// drain pages through one sub-query with bounded retry per page
func (s *Service) drain(ctx context.Context, cq cmr.Query) ([]domain.Granule, error) {
	pager, err := s.search.Search(cq)
	if err != nil {
		return nil, err
	}

	attempts := s.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	base := s.cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var out []domain.Granule
	for {
		var page []domain.Granule
		var last error
		for i := range attempts {
			page, last = pager.Next(ctx)
			if last == nil || last == io.EOF || !perr.Retryable(last) {
				break
			}
			if i == attempts-1 {
				break
			}
			d := min(base<<i, 30*time.Second)
			j := d/2 + time.Duration(rand.Int63n(int64(d/2)))
			if se := sleepCtx(ctx, j); se != nil {
				return out, se
			}
		}
		if last == io.EOF {
			return out, nil
		}
		if last != nil {
			return out, last
		}
		out = append(out, page...)
	}
}

// filterCompleteOrbits keeps granules only for orbits covered by every
// requested product level
func filterCompleteOrbits(ctx context.Context, refs []domain.Granule, want []coregranule.Product) []domain.Granule {
	byOrbit := map[string][]coregranule.Product{}
	for _, r := range refs {
		if r.Orbit == "" {
			continue
		}
		byOrbit[r.Orbit] = append(byOrbit[r.Orbit], r.Product)
	}
	complete := coregranule.CompleteOrbits(byOrbit, want)

	out := refs[:0]
	dropped := 0
	for _, r := range refs {
		if r.Orbit != "" && complete[r.Orbit] {
			out = append(out, r)
		} else {
			dropped++
		}
	}
	if dropped > 0 {
		logger.C(ctx).Info().Int("granules", dropped).Msg("catalog: dropped granules on incomplete orbits")
	}
	return out
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
