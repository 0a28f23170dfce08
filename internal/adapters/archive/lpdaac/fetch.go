package lpdaac

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	perr "gedigo/internal/platform/errors"
)

const defaultHTTPTO = 0

// Fetcher returns a local reader for a granule payload
type Fetcher interface {
	Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error)
}

// HTTPFetcher downloads straight from the archive with bearer auth
type HTTPFetcher struct {
	Client *http.Client
	Token  string // archive access token; empty sends no Authorization header
}

// NewHTTPFetcher builds a direct fetcher with the given client timeout
func NewHTTPFetcher(timeout time.Duration, token string) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}, Token: token}
}

func (f *HTTPFetcher) newRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}
	return req, nil
}

// Fetch streams the payload without materializing it locally
func (f *HTTPFetcher) Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	req, err := f.newRequest(ctx, ref.URL)
	if err != nil {
		return nil, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeNetwork, "lpdaac: fetch %s", ref.Name)
	}
	if resp.StatusCode == http.StatusNotFound {
		_ = resp.Body.Close()
		return nil, perr.NotFoundf("lpdaac: granule %s gone upstream", ref.Name)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, perr.Networkf("lpdaac: unexpected status %d for %s", resp.StatusCode, ref.URL)
	}
	return resp.Body, nil
}

// CachedFetcher keeps granule payloads on disk: one file per granule plus a
// .meta sidecar. Partial downloads persist as .part and resume with Range
// requests; completed files verify against the archive checksum. A changed
// upstream checksum invalidates the cached copy and triggers re-download.
// Optional retention bounds the cache by age and total bytes
type CachedFetcher struct {
	dir             string
	base            *HTTPFetcher
	integrityTries  int
	retainMaxAge    time.Duration
	retainMaxBytes  int64
	lastCleanupUnix atomic.Int64
	locks           fileLocks
}

// fileLocks serializes work per file name so two callers never write the
// same .part concurrently, even with granule leases disabled
type fileLocks struct {
	mu sync.Mutex
	m  map[string]*fileLock
}

type fileLock struct {
	sync.Mutex
	refs int
}

// acquire blocks until the caller owns name; the returned func releases it
func (l *fileLocks) acquire(name string) func() {
	l.mu.Lock()
	if l.m == nil {
		l.m = map[string]*fileLock{}
	}
	e := l.m[name]
	if e == nil {
		e = &fileLock{}
		l.m[name] = e
	}
	e.refs++
	l.mu.Unlock()

	e.Lock()
	return func() {
		e.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.m, name)
		}
		l.mu.Unlock()
	}
}

// cacheMeta is the sidecar json next to each cached payload
type cacheMeta struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	SHA256       string    `json:"sha256,omitempty"`
	Size         int64     `json:"size,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
	LastChecked  time.Time `json:"last_checked"`
}

// CachedOption configures the fetcher
type CachedOption func(*CachedFetcher)

// WithRetention sets optional age and size retention; zero disables a dimension
func WithRetention(maxAge time.Duration, maxBytes int64) CachedOption {
	return func(c *CachedFetcher) {
		c.retainMaxAge = maxAge
		c.retainMaxBytes = maxBytes
	}
}

// WithIntegrityRetries bounds checksum-mismatch re-downloads; default 2
func WithIntegrityRetries(n int) CachedOption {
	return func(c *CachedFetcher) {
		if n > 0 {
			c.integrityTries = n
		}
	}
}

// NewCachedFetcher builds a caching fetcher rooted at dir
func NewCachedFetcher(dir string, base *HTTPFetcher, opts ...CachedOption) *CachedFetcher {
	_ = os.MkdirAll(dir, 0o755)
	if base == nil {
		base = NewHTTPFetcher(defaultHTTPTO, "")
	}
	c := &CachedFetcher{dir: dir, base: base, integrityTries: 2}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cached reports whether a usable payload for ref is already on disk.
// A sidecar checksum that no longer matches the archive counts as a miss
func (c *CachedFetcher) Cached(ref FileRef) (path string, size int64, ok bool) {
	path = filepath.Join(c.dir, ref.Name)
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return path, 0, false
	}
	if meta, _ := loadMeta(path + ".meta"); meta != nil && ref.SHA256 != "" && meta.SHA256 != "" &&
		!strings.EqualFold(meta.SHA256, ref.SHA256) {
		return path, fi.Size(), false
	}
	return path, fi.Size(), true
}

// Fetch returns a reader over the cached payload, downloading (or resuming)
// it first when needed. At most one download per file runs at a time; a
// second caller blocks and then reads the completed copy
func (c *CachedFetcher) Fetch(ctx context.Context, ref FileRef) (io.ReadCloser, error) {
	release := c.locks.acquire(ref.Name)
	defer release()

	path := filepath.Join(c.dir, ref.Name)
	metaPath := path + ".meta"

	if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
		meta, _ := loadMeta(metaPath)
		if meta != nil && ref.SHA256 != "" && meta.SHA256 != "" && !strings.EqualFold(meta.SHA256, ref.SHA256) {
			// archive republished the granule; cached bytes are stale
			_ = os.Remove(path)
			_ = os.Remove(metaPath)
		} else {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			c.maybeCleanup()
			return f, nil
		}
	}

	// make room before admitting a new download; the post-fetch sweep is
	// throttled, so a full cache must be evicted on the way in
	if c.retainMaxBytes > 0 && c.cacheBytes() >= c.retainMaxBytes {
		_ = c.cleanupOnce()
	}

	var last error
	for attempt := 0; attempt < c.integrityTries; attempt++ {
		if err := c.download(ctx, ref, path, metaPath); err != nil {
			return nil, err
		}
		ok, sum, err := c.verify(path, ref.SHA256)
		if err != nil {
			return nil, err
		}
		if ok {
			if meta, _ := loadMeta(metaPath); meta != nil {
				meta.SHA256 = sum
				_ = saveMeta(metaPath, meta)
			}
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			c.maybeCleanup()
			return f, nil
		}
		last = perr.Integrityf("lpdaac: checksum mismatch for %s (got %s)", ref.Name, sum)
		_ = os.Remove(path)
		_ = os.Remove(metaPath)
	}
	return nil, last
}

// download writes the payload to path, resuming from an existing .part
func (c *CachedFetcher) download(ctx context.Context, ref FileRef, path, metaPath string) error {
	tmp := path + ".part"
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	var offset int64
	if fi, err := os.Stat(tmp); err == nil && fi.Mode().IsRegular() {
		offset = fi.Size()
	}

	req, err := c.base.newRequest(ctx, ref.URL)
	if err != nil {
		return err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.base.Client.Do(req)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeNetwork, "lpdaac: download %s", ref.Name)
	}
	defer func() { _ = resp.Body.Close() }()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		out, err = os.OpenFile(tmp, os.O_WRONLY|os.O_APPEND, 0o644)
	case http.StatusOK:
		// server ignored the range; start over
		out, err = os.Create(tmp)
	case http.StatusNotFound:
		return perr.NotFoundf("lpdaac: granule %s gone upstream", ref.Name)
	case http.StatusRequestedRangeNotSatisfiable:
		// .part is already the full file
		return c.finish(resp, tmp, path, metaPath)
	default:
		return perr.Networkf("lpdaac: unexpected status %d for %s", resp.StatusCode, ref.URL)
	}
	if err != nil {
		return err
	}

	_, werr := io.Copy(out, resp.Body)
	cerr := out.Close()
	if werr != nil {
		// keep the .part for the next resume attempt
		return perr.Wrapf(werr, perr.ErrorCodeNetwork, "lpdaac: copy %s", ref.Name)
	}
	if cerr != nil {
		return cerr
	}
	return c.finish(resp, tmp, path, metaPath)
}

// finish promotes the .part atomically and writes the sidecar
func (c *CachedFetcher) finish(resp *http.Response, tmp, path, metaPath string) error {
	fi, err := os.Stat(tmp)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	meta := &cacheMeta{
		ETag:         strings.TrimSpace(resp.Header.Get("ETag")),
		LastModified: strings.TrimSpace(resp.Header.Get("Last-Modified")),
		Size:         fi.Size(),
		FetchedAt:    time.Now().UTC(),
		LastChecked:  time.Now().UTC(),
	}
	return saveMeta(metaPath, meta)
}

// verify hashes the completed file; empty expectation passes trivially
func (c *CachedFetcher) verify(path, expected string) (bool, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return false, "", err
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if expected == "" {
		return true, sum, nil
	}
	return strings.EqualFold(sum, expected), sum, nil
}

func loadMeta(path string) (*cacheMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	var m cacheMeta
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func saveMeta(path string, m *cacheMeta) error {
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(m); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// cacheBytes totals the completed payload files on disk
func (c *CachedFetcher) cacheBytes() int64 {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	var total int64
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta") || strings.HasSuffix(name, ".part") {
			continue
		}
		if fi, err := e.Info(); err == nil && fi.Mode().IsRegular() {
			total += fi.Size()
		}
	}
	return total
}

// maybeCleanup throttles retention cleanup to once per ten minutes
func (c *CachedFetcher) maybeCleanup() {
	now := time.Now().Unix()
	last := c.lastCleanupUnix.Load()
	if last != 0 && now-last < 600 {
		return
	}
	if c.retainMaxAge <= 0 && c.retainMaxBytes <= 0 {
		return
	}
	if !c.lastCleanupUnix.CompareAndSwap(last, now) {
		return
	}
	_ = c.cleanupOnce()
}

// cleanupOnce applies age retention first, then evicts oldest-fetched files
// until the byte budget holds
func (c *CachedFetcher) cleanupOnce() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	type item struct {
		Path      string
		Size      int64
		FetchedAt time.Time
	}
	var items []item
	var total int64
	cutoff := time.Now().Add(-c.retainMaxAge)

	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".meta") || strings.HasSuffix(name, ".part") {
			continue
		}
		full := filepath.Join(c.dir, name)
		fi, err := os.Stat(full)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		fetched := fi.ModTime()
		if meta, err := loadMeta(full + ".meta"); err == nil && !meta.FetchedAt.IsZero() {
			fetched = meta.FetchedAt
		}
		if c.retainMaxAge > 0 && fetched.Before(cutoff) {
			_ = os.Remove(full)
			_ = os.Remove(full + ".meta")
			continue
		}
		items = append(items, item{Path: full, Size: fi.Size(), FetchedAt: fetched})
		total += fi.Size()
	}

	if c.retainMaxBytes > 0 && total > c.retainMaxBytes {
		sort.Slice(items, func(i, j int) bool { return items[i].FetchedAt.Before(items[j].FetchedAt) })
		for _, it := range items {
			if total <= c.retainMaxBytes {
				break
			}
			_ = os.Remove(it.Path)
			_ = os.Remove(it.Path + ".meta")
			total -= it.Size
		}
	}
	return nil
}
