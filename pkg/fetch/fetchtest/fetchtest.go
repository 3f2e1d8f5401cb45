// Package fetchtest provides an in-memory fetch.Fetcher for tests.
package fetchtest

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
)

// Fake serves canned bodies keyed by exact URL. Unknown URLs return a 404 HTTPError.
type Fake struct {
	mu       sync.Mutex
	bodies   map[string]string
	errs     map[string]error
	requests []Request
}

// Request records one call to Fetch.
type Request struct {
	URL    string
	Accept string
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{bodies: map[string]string{}, errs: map[string]error{}}
}

// Serve registers body for rawURL.
func (f *Fake) Serve(rawURL, body string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[rawURL] = body
	return f
}

// Fail makes rawURL return err.
func (f *Fake) Fail(rawURL string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[rawURL] = err
	return f
}

// Timeout makes rawURL fail with fetch.ErrTimeout.
func (f *Fake) Timeout(rawURL string) *Fake {
	return f.Fail(rawURL, fmt.Errorf("fetch %s: %w", rawURL, fetch.ErrTimeout))
}

// Fetch implements fetch.Fetcher.
func (f *Fake) Fetch(ctx context.Context, rawURL, accept string) (*fetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, Request{URL: rawURL, Accept: accept})

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch %s: %w: %w", rawURL, fetch.ErrTimeout, err)
	}
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, &fetch.HTTPError{URL: rawURL, StatusCode: http.StatusNotFound}
	}
	return &fetch.Response{StatusCode: http.StatusOK, Body: []byte(body), Header: http.Header{}, URL: rawURL}, nil
}

// Calls returns how many fetches were issued.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// Requests returns a copy of every recorded request.
func (f *Fake) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// Requested reports whether rawURL was fetched at least once.
func (f *Fake) Requested(rawURL string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r.URL == rawURL {
			return true
		}
	}
	return false
}
