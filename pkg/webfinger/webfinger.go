// Package webfinger discovers lrdd templates through host-meta and performs webfinger lookups.
package webfinger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
)

var (
	// ErrUndeterminable means a host-meta fetch timed out, so the absence of lrdd templates
	// cannot be trusted and must not be cached.
	ErrUndeterminable = errors.New("host-meta not determinable")
	// ErrNoLRDD means host-meta was reachable but advertised no lrdd template.
	ErrNoLRDD = errors.New("no lrdd template")
	// ErrNoLinks means no webfinger candidate produced a document with links.
	ErrNoLinks = errors.New("webfinger returned no links")
)

// Template is one lrdd link from host-meta.
type Template struct {
	Type     string
	Template string
}

// Expand substitutes resource into the template.
func (t Template) Expand(resource string) string {
	return strings.ReplaceAll(t.Template, "{uri}", url.QueryEscape(resource))
}

// HostMeta is the result of host-meta discovery.
type HostMeta struct {
	// BaseURL is scheme://host[/path] of the host-meta document that answered.
	BaseURL   string
	Templates []Template
}

// Client talks to host-meta and webfinger endpoints.
type Client struct {
	fetcher fetch.Fetcher
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a Client that issues requests through f.
func New(f fetch.Fetcher, opts ...Option) *Client {
	c := &Client{fetcher: f, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover finds lrdd templates for host. When the bare host has none, path prefixes built
// from segments (excluding the last one) are tried in order, supporting installs that live
// below the web root.
func (c *Client) Discover(ctx context.Context, host string, segments []string) (*HostMeta, error) {
	hm, err := c.hostMeta(ctx, host)
	if err == nil || errors.Is(err, ErrUndeterminable) {
		return hm, err
	}

	prefix := host
	for i := 0; i < len(segments)-1; i++ {
		prefix += "/" + segments[i]
		hm, err = c.hostMeta(ctx, prefix)
		if err == nil || errors.Is(err, ErrUndeterminable) {
			return hm, err
		}
	}
	return nil, err
}

// hostMeta fetches host-meta for host (which may carry a path) over https, then http.
func (c *Client) hostMeta(ctx context.Context, host string) (*HostMeta, error) {
	var lastErr, timeoutErr error
	for _, scheme := range []string{"https", "http"} {
		base := scheme + "://" + host
		resp, err := c.fetcher.Fetch(ctx, base+"/.well-known/host-meta", fetch.AcceptXRD)
		if err != nil {
			if fetch.IsTimeout(err) {
				c.logger.DebugContext(ctx, "host-meta timed out", "url", base, "error", err)
				timeoutErr = err
			}
			lastErr = err
			continue
		}

		doc, err := Parse(resp.Body)
		if err != nil {
			lastErr = err
			continue
		}

		hm := &HostMeta{BaseURL: base}
		for _, l := range doc.Links {
			if l.Rel != RelLRDD || l.Template == "" {
				continue
			}
			hm.add(Template{Type: l.Type, Template: l.Template})
		}
		if len(hm.Templates) == 0 {
			return nil, fmt.Errorf("%s: %w", base, ErrNoLRDD)
		}
		c.logger.DebugContext(ctx, "host-meta found", "url", base, "templates", len(hm.Templates))
		return hm, nil
	}
	if timeoutErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUndeterminable, timeoutErr)
	}
	return nil, fmt.Errorf("host-meta for %s: %w", host, lastErr)
}

// add keeps one template per content type; a later link replaces an earlier one of the same type.
func (hm *HostMeta) add(t Template) {
	for i := range hm.Templates {
		if hm.Templates[i].Type == t.Type {
			hm.Templates[i].Template = t.Template
			return
		}
	}
	hm.Templates = append(hm.Templates, t)
}

// Lookup requests the webfinger document for resource through template.
// A document without links is reported as ErrNoLinks.
func (c *Client) Lookup(ctx context.Context, t Template, resource string) (*Document, error) {
	accept := t.Type
	if accept == "" {
		accept = fetch.AcceptJRD
	}

	target := t.Expand(resource)
	resp, err := c.fetcher.Fetch(ctx, target, accept)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(doc.Links) == 0 {
		return nil, fmt.Errorf("%s: %w", target, ErrNoLinks)
	}
	return doc, nil
}

// Match is a webfinger document together with the request that produced it.
type Match struct {
	Document *Document
	Template Template
	Resource string
}

// Resolve tries every template against every resource, templates first, and returns the
// first document with links.
func (c *Client) Resolve(ctx context.Context, hm *HostMeta, resources []string) (*Match, error) {
	var lastErr error = ErrNoLinks
	for _, t := range hm.Templates {
		for _, resource := range resources {
			doc, err := c.Lookup(ctx, t, resource)
			if err != nil {
				c.logger.DebugContext(ctx, "webfinger candidate failed", "resource", resource, "type", t.Type, "error", err)
				lastErr = err
				if ctx.Err() != nil {
					return nil, lastErr
				}
				continue
			}
			c.logger.DebugContext(ctx, "webfinger found", "resource", resource, "subject", doc.Subject, "links", len(doc.Links))
			return &Match{Document: doc, Template: t, Resource: resource}, nil
		}
	}
	return nil, lastErr
}

// SwitchScheme flips http and https in rawURL.
func SwitchScheme(rawURL string) string {
	if rest, ok := strings.CutPrefix(rawURL, "https://"); ok {
		return "http://" + rest
	}
	if rest, ok := strings.CutPrefix(rawURL, "http://"); ok {
		return "https://" + rest
	}
	return rawURL
}
