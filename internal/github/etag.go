// internal/github/etag.go
package github

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// cacheEntry holds the validator and response of the last 200 answer for
// one (method, path) pair.
type cacheEntry struct {
	etag   string
	body   []byte
	header http.Header
}

// etagTransport adds conditional-request caching around a base transport.
// On a 304 it synthesizes a 200 carrying the cached body byte-for-byte, so
// callers never see Not Modified. The cache lives as long as the transport,
// which is as long as one client instance.
type etagTransport struct {
	base http.RoundTripper

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

func newETagTransport(base http.RoundTripper) *etagTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &etagTransport{base: base, cache: make(map[string]*cacheEntry)}
}

func cacheKey(r *http.Request) string {
	return r.Method + " " + r.URL.Path
}

func (t *etagTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet {
		return t.base.RoundTrip(req)
	}

	key := cacheKey(req)
	t.mu.Lock()
	entry := t.cache[key]
	t.mu.Unlock()

	if entry != nil {
		req = req.Clone(req.Context())
		req.Header.Set("If-None-Match", entry.etag)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified && entry != nil {
		return t.serveFromCache(resp, entry), nil
	}

	if resp.StatusCode == http.StatusOK {
		if etag := resp.Header.Get("ETag"); etag != "" {
			body, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.cache[key] = &cacheEntry{etag: etag, body: body, header: resp.Header.Clone()}
			t.mu.Unlock()
			resp.Body = io.NopCloser(bytes.NewReader(body))
		}
	}

	return resp, nil
}

// serveFromCache turns a 304 into the cached 200. The cached headers are
// replayed so pagination links survive, but rate-limit accounting always
// reflects the live response.
func (t *etagTransport) serveFromCache(notModified *http.Response, entry *cacheEntry) *http.Response {
	io.Copy(io.Discard, notModified.Body)
	notModified.Body.Close()

	resp := &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         notModified.Proto,
		ProtoMajor:    notModified.ProtoMajor,
		ProtoMinor:    notModified.ProtoMinor,
		Header:        entry.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(entry.body)),
		ContentLength: int64(len(entry.body)),
		Request:       notModified.Request,
	}
	for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Date"} {
		if v := notModified.Header.Get(h); v != "" {
			resp.Header.Set(h, v)
		}
	}
	return resp
}
