package lpdaac

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
)

const maxScanTokenSize = 32 * 1024 * 1024

// Reader streams ShotRecord items from a gzip ndjson payload.
// Offset() after any record is the zero-based position of the next line in
// the granule, so extraction can resume mid-granule
type Reader struct {
	r      io.ReadCloser
	gz     *gzip.Reader
	sc     *bufio.Scanner
	err    error
	offset int64 // lines consumed, including skipped malformed ones
	shots  int
	bytes  int64
}

// NewReader wraps a fetched payload
func NewReader(r io.ReadCloser) (*Reader, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		if cerr := r.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	sc := bufio.NewScanner(gz)
	buf := make([]byte, 512*1024)
	sc.Buffer(buf, maxScanTokenSize)
	return &Reader{r: r, gz: gz, sc: sc}, nil
}

// Next reads the next shot; returns io.EOF when the payload is exhausted.
// Undecodable or non-geolocatable lines are skipped, not fatal; a payload
// that yields no shots at all should be treated as malformed by the caller
func (rd *Reader) Next() (ShotRecord, int64, error) {
	if rd.err != nil {
		return ShotRecord{}, rd.offset, rd.err
	}
	for {
		if !rd.sc.Scan() {
			if err := rd.sc.Err(); err != nil {
				rd.err = err
				return ShotRecord{}, rd.offset, err
			}
			rd.err = io.EOF
			return ShotRecord{}, rd.offset, io.EOF
		}
		line := rd.sc.Bytes()
		off := rd.offset
		rd.offset++
		rd.bytes += int64(len(line) + 1)

		var rec ShotRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if !rec.Valid() {
			continue
		}
		rd.shots++
		return rec, off, nil
	}
}

// Skip advances past n lines without decoding, for mid-granule resume
func (rd *Reader) Skip(n int64) error {
	for rd.offset < n {
		if !rd.sc.Scan() {
			if err := rd.sc.Err(); err != nil {
				rd.err = err
				return err
			}
			rd.err = io.EOF
			return io.EOF
		}
		rd.bytes += int64(len(rd.sc.Bytes()) + 1)
		rd.offset++
	}
	return nil
}

// Close closes the gzip layer then the underlying payload
func (rd *Reader) Close() error {
	var first error
	if rd.gz != nil {
		if err := rd.gz.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			first = err
		}
	}
	if rd.r != nil {
		if err := rd.r.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stats returns decoded shot count and uncompressed bytes read so far
func (rd *Reader) Stats() (shots int, bytes int64) {
	return rd.shots, rd.bytes
}
