package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/feed"
	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/pubkey"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// OStatus detects GNU social, StatusNet and early Mastodon identities.
type OStatus struct {
	fetcher fetch.Fetcher
	feeds   *feed.Prober
	logger  *slog.Logger
}

// NewOStatus creates an OStatus detector.
func NewOStatus(f fetch.Fetcher, feeds *feed.Prober, logger *slog.Logger) *OStatus {
	if logger == nil {
		logger = slog.Default()
	}
	return &OStatus{fetcher: f, feeds: feeds, logger: logger}
}

// Network implements Detector.
func (*OStatus) Network() profile.Network { return profile.NetworkOStatus }

// NeedsSchemeSwitch reports whether doc advertises an OStatus subscription without a
// magic public key. Some servers only publish the key for the other URL scheme.
func NeedsSchemeSwitch(doc *webfinger.Document) bool {
	return doc.Subject != "" && doc.Advertises(webfinger.RelOStatusSub) && !doc.Has(webfinger.RelMagicKey)
}

// Matches reports whether doc carries every OStatus endpoint and a usable key, without
// fetching the feed.
func (o *OStatus) Matches(ctx context.Context, doc *webfinger.Document) bool {
	_, err := o.endpoints(ctx, doc)
	return err == nil
}

// Detect implements Detector.
func (o *OStatus) Detect(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error) {
	p, err := o.endpoints(ctx, doc)
	if err != nil {
		return nil, err
	}

	author, err := o.feeds.Author(ctx, p.Poll)
	if err != nil {
		return nil, fmt.Errorf("%w: ostatus feed: %w", ErrNoMatch, err)
	}
	setIf(&p.Name, author.Name)
	setIf(&p.Nick, author.Nick)
	if author.Avatar != "" {
		p.Photo = profile.FixAvatar(author.Avatar, p.URL)
	}
	setIf(&p.Alias, author.ID)
	setIf(&p.Location, author.Location)
	setIf(&p.About, author.About)
	// the feed's author link is trusted over the webfinger profile page, whose scheme is
	// often wrong
	setIf(&p.URL, author.Link)

	if p.Poll == p.URL && p.Alias != "" {
		p.URL, p.Alias = p.Alias, ""
	}
	return p, nil
}

func (o *OStatus) endpoints(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error) {
	p := &profile.Profile{
		Network: profile.NetworkOStatus,
		URL:     doc.ProfilePage(),
		Notify:  doc.Href(webfinger.RelSalmon),
		Poll:    doc.Href(webfinger.RelFeed),
	}
	keyHref := doc.Href(webfinger.RelMagicKey)
	if p.URL == "" || p.Notify == "" || p.Poll == "" || keyHref == "" {
		return nil, ErrNoMatch
	}

	for _, alias := range doc.Aliases {
		if addr, ok := handle(alias); ok {
			p.Addr = addr
		}
	}
	if addr, ok := handle(doc.Subject); ok {
		p.Addr = addr
	}

	key, err := o.magicKey(ctx, keyHref)
	if err != nil {
		return nil, fmt.Errorf("%w: magic key: %w", ErrNoMatch, err)
	}
	p.PubKey = key
	return p, nil
}

// handle returns the user@host form of an acct: URI or bare handle.
func handle(s string) (string, bool) {
	if !strings.Contains(s, "@") || strings.HasPrefix(profile.NormaliseLink(s), "http://") {
		return "", false
	}
	return strings.TrimPrefix(s, "acct:"), true
}

func (o *OStatus) magicKey(ctx context.Context, href string) (string, error) {
	payload := href
	switch {
	case strings.HasPrefix(href, "data:"):
		payload = pubkey.MagicPayload(href)
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		resp, err := o.fetcher.Fetch(ctx, href, "")
		if err != nil {
			return "", err
		}
		payload = strings.TrimSpace(string(resp.Body))
	}
	return pubkey.Normalize(payload)
}
