package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/hcard"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/pubkey"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// Diaspora detects Diaspora pods.
type Diaspora struct {
	cards  *hcard.Scraper
	logger *slog.Logger
}

// NewDiaspora creates a Diaspora detector.
func NewDiaspora(cards *hcard.Scraper, logger *slog.Logger) *Diaspora {
	if logger == nil {
		logger = slog.Default()
	}
	return &Diaspora{cards: cards, logger: logger}
}

// Network implements Detector.
func (*Diaspora) Network() profile.Network { return profile.NetworkDiaspora }

// Detect implements Detector. notify and batch are always synthesised from the pod base
// and guid, since pods do not reliably advertise them.
func (d *Diaspora) Detect(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error) {
	hcardURL := doc.Href(webfinger.RelHCard)
	if hcardURL == "" || !doc.Has(webfinger.RelSeedLocation) || !doc.Has(webfinger.RelGUID) {
		return nil, ErrNoMatch
	}

	p := &profile.Profile{
		Network: profile.NetworkDiaspora,
		BaseURL: trimSlash(doc.Href(webfinger.RelSeedLocation)),
		GUID:    doc.Href(webfinger.RelGUID),
		URL:     doc.ProfilePage(),
		Poll:    doc.Href(webfinger.RelFeed),
		Poco:    doc.Href(webfinger.RelPoco),
	}
	if href := doc.Href(webfinger.RelDiasporaKey); href != "" {
		if key, err := pubkey.Diaspora(href); err == nil {
			p.PubKey = key
		}
	}
	if p.URL == "" {
		return nil, fmt.Errorf("%w: diaspora without profile page", ErrNoMatch)
	}
	applyAliases(p, doc)

	card, err := d.cards.Scrape(ctx, hcardURL)
	if err != nil {
		return nil, fmt.Errorf("%w: diaspora hcard: %w", ErrNoMatch, err)
	}
	card.Merge(p, false)

	if p.URL == "" || p.GUID == "" || p.BaseURL == "" || p.PubKey == "" {
		return nil, fmt.Errorf("%w: diaspora record incomplete", ErrNoMatch)
	}

	p.Addr = strings.ToLower(p.Addr)
	p.Notify = p.BaseURL + "/receive/users/" + p.GUID
	p.Batch = p.BaseURL + "/receive/public"
	return p, nil
}
