package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/hcard"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/pubkey"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// DFRN detects Friendica style DFRN identities.
type DFRN struct {
	fetcher fetch.Fetcher
	cards   *hcard.Scraper
	logger  *slog.Logger
}

// NewDFRN creates a DFRN detector.
func NewDFRN(f fetch.Fetcher, cards *hcard.Scraper, logger *slog.Logger) *DFRN {
	if logger == nil {
		logger = slog.Default()
	}
	return &DFRN{fetcher: f, cards: cards, logger: logger}
}

// Network implements Detector.
func (*DFRN) Network() profile.Network { return profile.NetworkDFRN }

// Detect implements Detector.
func (d *DFRN) Detect(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error) {
	hcardURL := doc.Href(webfinger.RelHCard)
	if !doc.Has(webfinger.RelDFRN) || hcardURL == "" {
		return nil, ErrNoMatch
	}

	p := &profile.Profile{
		Network: profile.NetworkDFRN,
		Poll:    doc.Href(webfinger.RelFeed),
		URL:     doc.ProfilePage(),
		Poco:    doc.Href(webfinger.RelPoco),
		Photo:   doc.Href(webfinger.RelAvatar),
		BaseURL: trimSlash(doc.Href(webfinger.RelSeedLocation)),
		GUID:    doc.Href(webfinger.RelGUID),
	}
	if href := doc.Href(webfinger.RelDiasporaKey); href != "" {
		if key, err := pubkey.Diaspora(href); err == nil {
			p.PubKey = key
		}
	}
	applyAliases(p, doc)

	noscrapeURL := strings.Replace(hcardURL, "/hcard/", "/noscrape/", 1)
	if err := d.noscrape(ctx, noscrapeURL, p); err != nil {
		d.logger.DebugContext(ctx, "noscrape unavailable", "url", noscrapeURL, "error", err)
	}

	if !dfrnComplete(p) {
		card, err := d.cards.Scrape(ctx, hcardURL)
		if err != nil {
			return nil, fmt.Errorf("%w: dfrn hcard: %w", ErrNoMatch, err)
		}
		card.Merge(p, true)
	}

	if p.GUID != "" && p.GUID == p.Nick {
		p.GUID = ""
	}
	return p, nil
}

func dfrnComplete(p *profile.Profile) bool {
	return p.Notify != "" && p.Confirm != "" && p.Request != "" && p.Poll != "" && p.Name != "" && p.Photo != ""
}
