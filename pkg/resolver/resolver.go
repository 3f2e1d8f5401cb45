// Package resolver turns a federated identifier into a profile record.
//
// A resolution classifies the identifier, discovers the host's webfinger templates through
// host-meta, runs the protocol detectors against the webfinger document and falls back to
// feed and mail probing when none of them matches. The result always has a network, an
// URL and every other field present, so callers never handle errors from this package.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/fedprobe/pkg/cache"
	"github.com/codeGROOVE-dev/fedprobe/pkg/detect"
	"github.com/codeGROOVE-dev/fedprobe/pkg/feed"
	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/identifier"
	"github.com/codeGROOVE-dev/fedprobe/pkg/mail"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// DefaultBudget bounds a whole resolution.
const DefaultBudget = 90 * time.Second

// Directory persists complete profiles.
type Directory interface {
	Upsert(ctx context.Context, p *profile.Profile) error
}

// MailProber builds records for email addresses.
type MailProber interface {
	Probe(ctx context.Context, addr string, uid int64) (*profile.Profile, error)
}

// Resolver resolves identifiers. It is safe for concurrent use.
type Resolver struct {
	fetcher       fetch.Fetcher
	cache         *cache.Cache
	directory     Directory
	mail          MailProber
	logger        *slog.Logger
	webfinger     *webfinger.Client
	feeds         *feed.Prober
	ostatus       *detect.OStatus
	defaultAvatar string
	detectors     []detect.Detector
	budget        time.Duration
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFetcher sets the HTTP transport.
func WithFetcher(f fetch.Fetcher) Option {
	return func(r *Resolver) { r.fetcher = f }
}

// WithCache enables result caching.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithDirectory enables persistence of complete profiles.
func WithDirectory(d Directory) Option {
	return func(r *Resolver) { r.directory = d }
}

// WithMailProber replaces the mail probe.
func WithMailProber(m MailProber) Option {
	return func(r *Resolver) { r.mail = m }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithBudget bounds the wall-clock time of one resolution. Zero disables the bound.
func WithBudget(d time.Duration) Option {
	return func(r *Resolver) { r.budget = d }
}

// WithDefaultAvatar sets the photo used when nothing else was found.
func WithDefaultAvatar(u string) Option {
	return func(r *Resolver) { r.defaultAvatar = u }
}

// WithDetectors replaces the protocol detectors, which are tried in the given order.
func WithDetectors(d ...detect.Detector) Option {
	return func(r *Resolver) { r.detectors = d }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{logger: slog.Default(), budget: DefaultBudget}
	for _, opt := range opts {
		opt(r)
	}
	if r.fetcher == nil {
		r.fetcher = fetch.New(fetch.WithLogger(r.logger))
	}
	if r.mail == nil {
		r.mail = mail.New(mail.WithLogger(r.logger))
	}
	r.webfinger = webfinger.New(r.fetcher, webfinger.WithLogger(r.logger))
	r.feeds = feed.New(r.fetcher, r.logger)
	r.ostatus = detect.NewOStatus(r.fetcher, r.feeds, r.logger)
	if r.detectors == nil {
		r.detectors = detect.Default(r.fetcher, r.logger)
	}
	r.cache.SetLogger(r.logger)
	return r
}

type callConfig struct {
	network profile.Network
	mailUID int64
	noCache bool
}

// ResolveOption adjusts a single resolution.
type ResolveOption func(*callConfig)

// ForNetwork only accepts results of network n.
func ForNetwork(n profile.Network) ResolveOption {
	return func(c *callConfig) { c.network = n }
}

// ForMailUser searches the mailbox of local user uid when falling back to mail.
func ForMailUser(uid int64) ResolveOption {
	return func(c *callConfig) { c.mailUID = uid }
}

// NoCache bypasses the result cache.
func NoCache() ResolveOption {
	return func(c *callConfig) { c.noCache = true }
}

// Resolve returns the profile for raw. It never fails: anything undetectable comes back
// with network Unknown and the identifier as its URL.
func (r *Resolver) Resolve(ctx context.Context, raw string, opts ...ResolveOption) *profile.Profile {
	var cfg callConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	raw = strings.TrimSpace(raw)

	if r.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.budget)
		defer cancel()
	}

	start := time.Now()
	resolve := func(ctx context.Context) (*profile.Profile, error) {
		return r.resolve(ctx, raw, cfg), nil
	}

	var p *profile.Profile
	if cfg.noCache {
		p = r.resolve(ctx, raw, cfg)
	} else {
		var err error
		p, err = r.cache.GetSet(ctx, cache.Key(cfg.network, raw), resolve)
		if err != nil {
			r.logger.WarnContext(ctx, "cache lookup failed", "identifier", raw, "error", err)
			p = r.resolve(ctx, raw, cfg)
		}
	}

	r.logger.InfoContext(ctx, "identifier resolved",
		"identifier", raw, "network", p.Network, "url", p.URL, "duration", time.Since(start).Round(time.Millisecond))
	return p
}

// resolve runs detection and assembles the final record.
func (r *Resolver) resolve(ctx context.Context, raw string, cfg callConfig) *profile.Profile {
	id := identifier.Classify(raw)
	res := r.detect(ctx, id, cfg)
	if res.profile == nil {
		return profile.Unknown(raw)
	}

	p := res.profile
	if p.URL == "" {
		p.URL = raw
	}
	if p.BaseURL == "" {
		p.BaseURL = res.hostBase
	}
	if p.BaseURL == "" {
		p.BaseURL = profile.BaseURL(p.URL)
	}
	if p.Photo == "" {
		p.Photo = r.defaultAvatar
	}
	if p.Name == "" {
		p.Name = p.Nick
	}
	if p.Name == "" {
		p.Name = p.URL
	}
	if p.Nick == "" {
		p.Nick = strings.ToLower(p.Name)
		if i := strings.Index(p.Nick, " "); i > 0 {
			p.Nick = strings.TrimSpace(p.Nick[:i])
		}
	}
	if p.Network == "" {
		p.Network = profile.NetworkUnknown
	}

	r.persist(ctx, p, cfg)
	return p
}

func (r *Resolver) persist(ctx context.Context, p *profile.Profile, cfg callConfig) {
	if r.directory == nil || cfg.network != "" || p.Network == profile.NetworkFeed || !p.Cacheable() {
		return
	}
	if err := r.directory.Upsert(ctx, p); err != nil {
		r.logger.WarnContext(ctx, "directory update failed", "url", p.URL, "error", err)
	}
}

type detection struct {
	profile  *profile.Profile
	hostBase string
}

// detect walks the discovery chain. A nil profile means nothing was found.
func (r *Resolver) detect(ctx context.Context, id identifier.Identifier, cfg callConfig) detection {
	switch {
	case id.Kind == identifier.Invalid:
		r.logger.DebugContext(ctx, "identifier not detectable", "identifier", id.Raw)
		return detection{}
	case id.NonFederated():
		return detection{profile: &profile.Profile{Network: id.Network, URL: id.Raw}}
	case id.Kind == identifier.Mail:
		return detection{profile: r.probeMail(ctx, id.Addr, cfg)}
	case id.Kind == identifier.Handle && cfg.network == profile.NetworkMail:
		return detection{profile: r.probeMail(ctx, id.Addr, cfg)}
	}

	hm, err := r.webfinger.Discover(ctx, id.Host, id.Segments)
	if errors.Is(err, webfinger.ErrUndeterminable) {
		r.logger.DebugContext(ctx, "host-meta undeterminable", "host", id.Host, "error", err)
		return detection{}
	}
	if err != nil {
		r.logger.DebugContext(ctx, "no host-meta", "host", id.Host, "error", err)
		if id.Kind == identifier.URL {
			return detection{profile: r.probeFeed(ctx, id.Raw)}
		}
		return detection{profile: r.probeMail(ctx, id.Addr, cfg)}
	}

	nick, addr := id.Nick, id.Addr
	m, err := r.webfinger.Resolve(ctx, hm, candidates(id))
	if err != nil {
		r.logger.DebugContext(ctx, "no webfinger document", "identifier", id.Raw, "error", err)
		if id.Kind == identifier.URL {
			return detection{profile: r.probeFeed(ctx, id.Raw), hostBase: hm.BaseURL}
		}
		return detection{profile: r.probeMail(ctx, id.Addr, cfg), hostBase: hm.BaseURL}
	}
	if id.Kind == identifier.URL && m.Resource == id.Raw {
		// the URL answered webfinger itself, so the guessed nick and address are unreliable
		nick, addr = "", ""
	}
	doc := r.fixOStatus(ctx, m)

	if p, err := detect.Run(ctx, r.detectors, doc, cfg.network, r.logger); err == nil {
		if (p.Nick == "" || strings.Contains(p.Nick, " ")) && nick != "" {
			p.Nick = nick
		}
		if p.Addr == "" {
			p.Addr = addr
		}
		return detection{profile: p, hostBase: hm.BaseURL}
	}

	if cfg.network == "" || cfg.network == profile.NetworkFeed {
		target := id.Raw
		if id.Kind != identifier.URL {
			target = doc.ProfilePage()
		}
		if target != "" {
			if p := r.probeFeed(ctx, target); p != nil {
				return detection{profile: p, hostBase: hm.BaseURL}
			}
		}
	}
	if cfg.network == "" && id.Kind == identifier.Handle {
		return detection{profile: r.probeMail(ctx, id.Addr, cfg), hostBase: hm.BaseURL}
	}
	return detection{}
}

// candidates lists the webfinger resources to try, most specific first.
func candidates(id identifier.Identifier) []string {
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		for _, c := range out {
			if c == s {
				return
			}
		}
		out = append(out, s)
	}

	if id.Kind == identifier.URL {
		add(id.Raw)
	} else {
		add(id.Addr)
	}
	if id.Addr != "" {
		add("acct:" + id.Addr)
	}
	return out
}

// fixOStatus retries webfinger with the subject's scheme flipped when the document looks
// like OStatus but lacks a magic key, and prefers the retry if it is a complete OStatus
// document.
func (r *Resolver) fixOStatus(ctx context.Context, m *webfinger.Match) *webfinger.Document {
	doc := m.Document
	if !detect.NeedsSchemeSwitch(doc) {
		return doc
	}
	alt, err := r.webfinger.Lookup(ctx, m.Template, webfinger.SwitchScheme(doc.Subject))
	if err != nil {
		r.logger.DebugContext(ctx, "scheme switched webfinger failed", "subject", doc.Subject, "error", err)
		return doc
	}
	if r.ostatus.Matches(ctx, alt) {
		r.logger.DebugContext(ctx, "using scheme switched webfinger", "subject", alt.Subject)
		return alt
	}
	return doc
}

func (r *Resolver) probeFeed(ctx context.Context, rawURL string) *profile.Profile {
	p, err := r.feeds.Probe(ctx, rawURL)
	if err != nil {
		r.logger.DebugContext(ctx, "feed probe failed", "url", rawURL, "error", err)
		return nil
	}
	return p
}

func (r *Resolver) probeMail(ctx context.Context, addr string, cfg callConfig) *profile.Profile {
	if addr == "" {
		return nil
	}
	p, err := r.mail.Probe(ctx, addr, cfg.mailUID)
	if err != nil {
		r.logger.DebugContext(ctx, "mail probe failed", "addr", addr, "error", err)
		return nil
	}
	return p
}
