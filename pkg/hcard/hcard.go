// Package hcard scrapes hCard profile pages served by Friendica, Hubzilla and Diaspora.
package hcard

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/htmlutil"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
	"github.com/codeGROOVE-dev/fedprobe/pkg/pubkey"
)

// Card holds what an hCard page revealed.
type Card struct {
	Source     string
	GUID       string
	Nick       string
	Name       string
	Searchable string
	PubKey     string // PKIX PEM
	BaseURL    string
	Photo      string // as found, not yet resolved against a base

	// DFRN endpoints from <link rel="dfrn-*">, keyed by rel without the prefix.
	DFRN map[string]string
}

// Parse extracts a Card from an hCard page. source is the page URL.
func Parse(body []byte, contentType, source string) (*Card, error) {
	doc, err := htmlutil.Load(body, contentType)
	if err != nil {
		return nil, err
	}

	card := &Card{Source: source, DFRN: map[string]string{}}

	photos := htmlutil.Scope(doc)
	if vcard, ok := doc.First(".vcard"); ok {
		photos = vcard
		card.GUID = htmlutil.TextOf(vcard, ".uid")
		card.Nick = htmlutil.TextOf(vcard, ".nickname")
		card.Name = htmlutil.TextOf(vcard, ".fn")
		card.Searchable = htmlutil.TextOf(vcard, ".searchable")
		if raw := htmlutil.TextOf(vcard, ".key"); raw != "" {
			if key, err := pubkey.Normalize(raw); err == nil {
				card.PubKey = key
			}
		}
		card.BaseURL = strings.TrimRight(htmlutil.TextOf(vcard, "#pod_location"), "/")
	}
	card.Photo = widestPhoto(photos.All(".photo, .avatar"))

	for _, link := range doc.All(`link[rel^="dfrn-"]`) {
		rel := strings.TrimPrefix(link.Attr("rel"), "dfrn-")
		if href := link.Attr("href"); rel != "" && href != "" {
			card.DFRN[rel] = href
		}
	}
	return card, nil
}

// widestPhoto keeps the image with the largest declared width. Without any width the
// first image wins.
func widestPhoto(nodes []htmlutil.Element) string {
	var first, best string
	bestWidth := -1
	for _, n := range nodes {
		src := n.Attr("src")
		if src == "" {
			continue
		}
		if first == "" {
			first = src
		}
		if w, err := strconv.Atoi(n.Attr("width")); err == nil && w >= bestWidth {
			best, bestWidth = src, w
		}
	}
	if best != "" {
		return best
	}
	return first
}

// Merge copies the card into p. A guid from the card only fills an empty one, since the
// lrdd guid is authoritative. With dfrn set, DFRN endpoints are copied as well and a guid
// equal to the nickname is dropped.
func (c *Card) Merge(p *profile.Profile, dfrn bool) {
	if c.GUID != "" && p.GUID == "" {
		p.GUID = c.GUID
	}
	setIf(&p.Nick, c.Nick)
	setIf(&p.Name, c.Name)
	setIf(&p.PubKey, c.PubKey)
	setIf(&p.BaseURL, c.BaseURL)

	if c.Photo != "" {
		base := p.BaseURL
		if base == "" {
			base = profile.BaseURL(c.Source)
		}
		p.Photo = profile.FixAvatar(c.Photo, base)
	}

	if !dfrn {
		return
	}
	setIf(&p.Request, c.DFRN["request"])
	setIf(&p.Confirm, c.DFRN["confirm"])
	setIf(&p.Notify, c.DFRN["notify"])
	setIf(&p.Poll, c.DFRN["poll"])
	setIf(&p.Poco, c.DFRN["poco"])
	if p.GUID != "" && p.GUID == p.Nick {
		p.GUID = ""
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Scraper fetches and parses hCard pages.
type Scraper struct {
	fetcher fetch.Fetcher
	logger  *slog.Logger
}

// New creates a Scraper.
func New(f fetch.Fetcher, logger *slog.Logger) *Scraper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scraper{fetcher: f, logger: logger}
}

// Scrape fetches url and parses it as an hCard page.
func (s *Scraper) Scrape(ctx context.Context, url string) (*Card, error) {
	resp, err := s.fetcher.Fetch(ctx, url, fetch.AcceptHTML)
	if err != nil {
		return nil, fmt.Errorf("hcard: %w", err)
	}
	card, err := Parse(resp.Body, resp.Header.Get("Content-Type"), resp.URL)
	if err != nil {
		return nil, fmt.Errorf("hcard %s: %w", url, err)
	}
	s.logger.DebugContext(ctx, "hcard scraped", "url", url, "nick", card.Nick, "photo", card.Photo, "dfrn_links", len(card.DFRN))
	return card, nil
}
