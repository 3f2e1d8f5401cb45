package detect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/htmlutil"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// PumpIO detects pump.io identities.
type PumpIO struct {
	fetcher fetch.Fetcher
	logger  *slog.Logger
}

// NewPumpIO creates a pump.io detector.
func NewPumpIO(f fetch.Fetcher, logger *slog.Logger) *PumpIO {
	if logger == nil {
		logger = slog.Default()
	}
	return &PumpIO{fetcher: f, logger: logger}
}

// Network implements Detector.
func (*PumpIO) Network() profile.Network { return profile.NetworkPumpIO }

// Detect implements Detector.
func (d *PumpIO) Detect(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error) {
	p := &profile.Profile{
		Network: profile.NetworkPumpIO,
		URL:     doc.ProfilePage(),
		Notify:  doc.Href(webfinger.RelInbox),
		Poll:    doc.Href(webfinger.RelOutbox),
	}
	if p.URL == "" || p.Notify == "" || p.Poll == "" || !doc.Has(webfinger.RelDialback) {
		return nil, ErrNoMatch
	}
	if addr, ok := strings.CutPrefix(doc.Subject, "acct:"); ok {
		p.Addr = addr
	}

	resp, err := d.fetcher.Fetch(ctx, p.URL, fetch.AcceptHTML)
	if err != nil {
		return nil, fmt.Errorf("%w: pump.io profile: %w", ErrNoMatch, err)
	}
	page, err := htmlutil.Load(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: pump.io profile: %w", ErrNoMatch, err)
	}

	p.Name = htmlutil.TextOf(page, ".p-name")
	if p.Name == "" {
		p.Name = htmlutil.FirstLine(htmlutil.TextOf(page, "h1.media-header"))
	}
	p.Location = firstText(page, ".p-locality", "p.location")
	p.About = firstText(page, ".p-note", "p.summary")

	photo := htmlutil.AttrOf(page, "img.u-photo", "src")
	if photo == "" {
		photo = htmlutil.AttrOf(page, `img[class="img-rounded media-object"]`, "src")
	}
	if photo != "" {
		p.Photo = profile.FixAvatar(photo, p.URL)
	}

	if p.Addr != "" && p.Name != "" {
		if name := strings.TrimSpace(strings.ReplaceAll(p.Name, p.Addr, "")); name != "" {
			p.Name = name
		}
	}
	return p, nil
}

func firstText(s htmlutil.Scope, selectors ...string) string {
	for _, sel := range selectors {
		if v := htmlutil.TextOf(s, sel); v != "" {
			return v
		}
	}
	return ""
}
