// Package detect decides which federation protocol a webfinger document describes and
// extracts that protocol's endpoints.
package detect

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/feed"
	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/hcard"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/webfinger"
)

// ErrNoMatch is returned by a Detector whose protocol is not advertised, or whose required
// fields could not be completed.
var ErrNoMatch = errors.New("protocol not matched")

// Detector recognises one federation protocol.
type Detector interface {
	Network() profile.Network
	Detect(ctx context.Context, doc *webfinger.Document) (*profile.Profile, error)
}

// Default returns the detectors in priority order: DFRN, Diaspora, OStatus, pump.io.
func Default(f fetch.Fetcher, logger *slog.Logger) []Detector {
	if logger == nil {
		logger = slog.Default()
	}
	cards := hcard.New(f, logger)
	return []Detector{
		NewDFRN(f, cards, logger),
		NewDiaspora(cards, logger),
		NewOStatus(f, feed.New(f, logger), logger),
		NewPumpIO(f, logger),
	}
}

// Run tries detectors in order and returns the first match. A non-empty filter skips every
// detector for another network.
func Run(ctx context.Context, detectors []Detector, doc *webfinger.Document, filter profile.Network, logger *slog.Logger) (*profile.Profile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, d := range detectors {
		if filter != "" && filter != d.Network() {
			continue
		}
		p, err := d.Detect(ctx, doc)
		if err == nil {
			logger.DebugContext(ctx, "protocol detected", "network", d.Network(), "url", p.URL)
			return p, nil
		}
		logger.DebugContext(ctx, "detector declined", "network", d.Network(), "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, ErrNoMatch
}

// applyAliases reconciles webfinger aliases and subject into alias and addr.
func applyAliases(p *profile.Profile, doc *webfinger.Document) {
	for _, alias := range doc.Aliases {
		switch {
		case profile.NormaliseLink(alias) != profile.NormaliseLink(p.URL) && !strings.Contains(alias, "@"):
			p.Alias = alias
		case strings.HasPrefix(alias, "acct:"):
			p.Addr = strings.TrimPrefix(alias, "acct:")
		}
	}
	if addr, ok := strings.CutPrefix(doc.Subject, "acct:"); ok {
		p.Addr = addr
	}
}

func trimSlash(s string) string {
	return strings.TrimRight(s, "/")
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func fillIf(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}
