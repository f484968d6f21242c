// Package assetcache is the request-interception layer that fronts the network:
// manifest assets are served from a versioned cache generation, dynamic-service
// traffic passes through untouched, and other successful responses are cached
// as a side effect of the fetch.
package assetcache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response is a cached copy of an HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
}

// Entry pairs a request key with its cached response.
type Entry struct {
	Key      string
	Response *Response
}

// Cache is one named cache generation.
type Cache interface {
	// Match returns the response stored under key, if any.
	Match(ctx context.Context, key string) (*Response, bool, error)
	// Put stores resp under key, replacing any previous entry.
	Put(ctx context.Context, key string, resp *Response) error
	// PutAll stores every entry or none of them.
	PutAll(ctx context.Context, entries []Entry) error
	// Len returns the number of stored entries.
	Len(ctx context.Context) (int, error)
}

// Storage holds every cache generation.
type Storage interface {
	// Open returns the named generation, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists generation names in creation order.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a generation and all its entries. Reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// MarkInstalled records that the generation holds a complete manifest.
	MarkInstalled(ctx context.Context, name string) error
	// Installed reports whether the generation holds a complete manifest.
	Installed(ctx context.Context, name string) (bool, error)
}

// Key returns the cache identity of a request: method plus URL without fragment.
func Key(req *http.Request) string {
	return KeyFor(req.Method, req.URL.String())
}

// KeyFor builds a cache key from a method and an absolute URL.
func KeyFor(method, rawURL string) string {
	if i := strings.IndexByte(rawURL, '#'); i >= 0 {
		rawURL = rawURL[:i]
	}
	if method == "" {
		method = http.MethodGet
	}
	return strings.ToUpper(method) + " " + rawURL
}

// capture drains resp.Body into a Response and swaps in a replayable body so the
// caller still receives the original response. On a read error the replacement
// body yields the bytes that arrived and then the same error.
func capture(resp *http.Response) (*Response, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		resp.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{err}))
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

// toHTTP materializes a cached Response for req. Each call gets its own body reader.
func (r *Response) toHTTP(req *http.Request) *http.Response {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.Itoa(len(r.Body)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
