// Package cmr talks to the archive's common metadata repository to discover
// granules by spatio-temporal query
package cmr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"gedigo/internal/core/granule"
	perr "gedigo/internal/platform/errors"
	"gedigo/internal/platform/logger"
)

const (
	defaultBaseURL  = "https://cmr.earthdata.nasa.gov/search/granules.umm_json"
	defaultProvider = "LPDAAC_ECS"
	defaultPageSize = 500
	maxPageSize     = 2000

	// searchAfterHeader carries the scroll cursor; echoing it back resumes
	// the result stream exactly where the previous page ended
	searchAfterHeader = "CMR-Search-After"
	hitsHeader        = "CMR-Hits"
)

// Client queries the catalog. Zero value is not usable; call New
type Client struct {
	baseURL  string
	provider string
	pageSize int
	client   *http.Client
}

// Option configures the client
type Option func(*Client)

// WithBaseURL overrides the catalog endpoint (tests, mirrors)
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = u } }

// WithProvider overrides the archive provider id
func WithProvider(p string) Option { return func(c *Client) { c.provider = p } }

// WithPageSize sets the per-request page size, capped at the API maximum
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = min(n, maxPageSize)
		}
	}
}

// WithHTTPClient swaps the underlying http client
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.client = h } }

// New builds a catalog client
func New(timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:  defaultBaseURL,
		provider: defaultProvider,
		pageSize: defaultPageSize,
		client:   &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Pager is a lazy, restartable page iterator over one catalog query.
// Cursor() after any page can seed Resume() in a fresh process
type Pager struct {
	c      *Client
	params url.Values
	cursor string
	hits   int
	seen   int
	done   bool
}

// Search starts a paged granule search for the query
func (c *Client) Search(q Query) (*Pager, error) {
	if !q.Product.Valid() {
		return nil, perr.InvalidArgf("cmr: unknown product %q", q.Product)
	}
	params := url.Values{}
	params.Set("short_name", string(q.Product))
	provider := c.provider
	if q.Provider != "" {
		provider = q.Provider
	}
	params.Set("provider", provider)
	if q.Version != "" {
		params.Set("version", q.Version)
	}
	if !q.Start.IsZero() || !q.End.IsZero() {
		params.Set("temporal", fmt.Sprintf("%s,%s",
			formatTemporal(q.Start), formatTemporal(q.End)))
	}
	// Rectangles go out as bounding_box; true polygons as a lon,lat point
	// list with a counterclockwise exterior. An empty region searches globally
	switch {
	case q.Region.Empty():
	case q.Region.Rect():
		params.Set("bounding_box", q.Region.BBoxString())
	default:
		params.Set("polygon", polygonParam(q.Region.ExteriorPoints()))
	}
	size := c.pageSize
	if q.PageSize > 0 {
		size = min(q.PageSize, maxPageSize)
	}
	params.Set("page_size", strconv.Itoa(size))

	return &Pager{c: c, params: params}, nil
}

// Resume rebuilds a pager from a previously saved cursor
func (c *Client) Resume(q Query, cursor string) (*Pager, error) {
	p, err := c.Search(q)
	if err != nil {
		return nil, err
	}
	p.cursor = cursor
	return p, nil
}

// Cursor returns the scroll position after the most recent page
func (p *Pager) Cursor() string { return p.cursor }

// Hits returns the total result count reported by the catalog, known after
// the first page
func (p *Pager) Hits() int { return p.hits }

// Next fetches the next page of granule refs; returns io.EOF when the
// result stream is exhausted
func (p *Pager) Next(ctx context.Context) ([]GranuleRef, error) {
	if p.done {
		return nil, io.EOF
	}

	reqURL := p.c.baseURL + "?" + p.params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	if p.cursor != "" {
		req.Header.Set(searchAfterHeader, p.cursor)
	}

	resp, err := p.c.client.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeCatalogUnavailable, "cmr: search request failed")
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Named("cmr").Warn().Err(cerr).Msg("cmr: response body close failed")
		}
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, perr.CatalogUnavailablef("cmr: status %d for %s", resp.StatusCode, reqURL)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, perr.Newf(perr.ErrorCodeInvalidArgument,
			"cmr: status %d for %s: %s", resp.StatusCode, reqURL, strings.TrimSpace(string(body)))
	}

	if h := resp.Header.Get(hitsHeader); h != "" {
		if n, err := strconv.Atoi(h); err == nil {
			p.hits = n
		}
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeCatalogUnavailable, "cmr: decode search response")
	}

	p.seen += len(sr.Items)
	next := resp.Header.Get(searchAfterHeader)
	if next == "" || len(sr.Items) == 0 || (p.hits > 0 && p.seen >= p.hits) {
		p.done = true
	}
	if next != "" {
		p.cursor = next
	}

	if len(sr.Items) == 0 {
		return nil, io.EOF
	}

	refs := make([]GranuleRef, 0, len(sr.Items))
	for _, it := range sr.Items {
		refs = append(refs, refFromItem(it))
	}
	return refs, nil
}

// All drains the pager. Callers with big result sets should page instead
func (p *Pager) All(ctx context.Context) ([]GranuleRef, error) {
	var out []GranuleRef
	for {
		page, err := p.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, page...)
	}
}

func refFromItem(it searchItem) GranuleRef {
	ref := GranuleRef{
		ID:         it.Meta.ConceptID,
		Name:       it.UMM.GranuleUR,
		RevisionID: it.Meta.RevisionID,
		TimeStart:  it.UMM.TemporalExtent.RangeDateTime.BeginningDateTime,
		TimeEnd:    it.UMM.TemporalExtent.RangeDateTime.EndingDateTime,
	}
	for _, adi := range it.UMM.DataGranule.ArchiveAndDistributionInformation {
		if adi.Name != "" && ref.Name == "" {
			ref.Name = adi.Name
		}
		if adi.SizeInMB > 0 {
			ref.SizeMB = adi.SizeInMB
		}
		if strings.EqualFold(adi.Checksum.Algorithm, "sha-256") || strings.EqualFold(adi.Checksum.Algorithm, "sha256") {
			ref.SHA256 = adi.Checksum.Value
		}
	}
	for _, ru := range it.UMM.RelatedUrls {
		if ru.Type == "GET DATA" {
			ref.URL = ru.URL
			break
		}
	}
	if meta, err := granule.ParseName(ref.Name); err == nil {
		ref.Product = meta.Product
		ref.Orbit = meta.Orbit
	}

	geom := it.UMM.SpatialExtent.HorizontalSpatialDomain.Geometry
	if len(geom.GPolygons) > 0 && len(geom.GPolygons[0].Boundary.Points) > 2 {
		pts := geom.GPolygons[0].Boundary.Points
		var sb strings.Builder
		sb.WriteString("POLYGON((")
		for i, pt := range pts {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%g %g", pt.Longitude, pt.Latitude)
		}
		// close the ring when the source leaves it open
		if pts[0] != pts[len(pts)-1] {
			fmt.Fprintf(&sb, ",%g %g", pts[0].Longitude, pts[0].Latitude)
		}
		sb.WriteString("))")
		ref.PolygonWKT = sb.String()
	}
	if len(geom.BoundingRectangles) > 0 {
		r := geom.BoundingRectangles[0]
		ref.BoundingBox = fmt.Sprintf("%g,%g,%g,%g", r.West, r.South, r.East, r.North)
	}
	return ref
}

func polygonParam(pts []orb.Point) string {
	var sb strings.Builder
	for i, p := range pts {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%g,%g", p[0], p[1])
	}
	return sb.String()
}

func formatTemporal(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
