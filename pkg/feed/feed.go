// Package feed reads author metadata from Atom, RSS and RDF feeds and implements the feed
// fallback probe.
package feed

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch"
	"github.com/codeGROOVE-dev/fedprobe/pkg/htmlutil"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

const atomNS = "http://www.w3.org/2005/Atom"

// ErrNotFeed is returned when a document is not an Atom, RSS or RDF feed.
var ErrNotFeed = errors.New("not a feed")

// Author is the feed-level author information.
type Author struct {
	Link     string
	ID       string
	Name     string
	Nick     string
	Avatar   string
	Location string
	About    string
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomFeed struct {
	ID       string     `xml:"id"`
	Title    string     `xml:"title"`
	Subtitle string     `xml:"subtitle"`
	Logo     string     `xml:"logo"`
	Links    []atomLink `xml:"link"`
	Author   struct {
		Name              string     `xml:"name"`
		URI               string     `xml:"uri"`
		Links             []atomLink `xml:"link"`
		DisplayName       string     `xml:"http://portablecontacts.net/spec/1.0 displayName"`
		PreferredUsername string     `xml:"http://portablecontacts.net/spec/1.0 preferredUsername"`
		Note              string     `xml:"http://portablecontacts.net/spec/1.0 note"`
		Formatted         string     `xml:"http://portablecontacts.net/spec/1.0 address>formatted"`
	} `xml:"author"`
}

type rssLink struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type rssChannel struct {
	Links       []rssLink `xml:"link"`
	Title       string    `xml:"title"`
	Description string    `xml:"description"`
	Copyright   string    `xml:"copyright"`
	Image       struct {
		URL string `xml:"url"`
	} `xml:"image"`
}

type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}

// ParseAuthor extracts the header author from a feed document.
func ParseAuthor(body []byte) (*Author, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNotFeed
			}
			return nil, fmt.Errorf("%w: %w", ErrNotFeed, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "feed":
			var f atomFeed
			if err := dec.DecodeElement(&f, &start); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrNotFeed, err)
			}
			return f.author(), nil
		case "rss", "RDF":
			var f rssFeed
			if err := dec.DecodeElement(&f, &start); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrNotFeed, err)
			}
			return f.Channel.author(start.Name.Local == "rss"), nil
		default:
			return nil, fmt.Errorf("%w: root element <%s>", ErrNotFeed, start.Name.Local)
		}
	}
}

func (f *atomFeed) author() *Author {
	a := &Author{
		Link:     firstNonEmpty(relHref(f.Links, "alternate"), relHref(f.Links, "self"), f.ID),
		ID:       trim(f.Author.URI),
		Name:     firstNonEmpty(f.Title, f.Subtitle, f.Author.Name),
		Nick:     trim(f.Author.PreferredUsername),
		Avatar:   firstNonEmpty(f.Logo, relHref(f.Author.Links, "avatar")),
		Location: trim(f.Author.Formatted),
		About:    trim(f.Author.Note),
	}
	if dn := trim(f.Author.DisplayName); dn != "" {
		a.Name = dn
	}
	return a
}

func (c *rssChannel) author(rss bool) *Author {
	a := &Author{Name: trim(c.Title)}
	for _, l := range c.Links {
		// skip <atom:link rel="self"/> which shares the local name
		if l.XMLName.Space != atomNS && trim(l.Value) != "" {
			a.Link = trim(l.Value)
			break
		}
	}
	if rss {
		a.Avatar = trim(c.Image.URL)
		a.Name = firstNonEmpty(a.Name, c.Copyright)
	}
	a.Name = firstNonEmpty(a.Name, c.Description)
	return a
}

func relHref(links []atomLink, rel string) string {
	for _, l := range links {
		if l.Rel == rel && l.Href != "" {
			return trim(l.Href)
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = trim(v); v != "" {
			return v
		}
	}
	return ""
}

func trim(s string) string { return strings.TrimSpace(s) }

// DiscoverLink returns the first RSS or Atom alternate link in an HTML page's head,
// resolved against base.
func DiscoverLink(body []byte, contentType, base string) string {
	doc, err := htmlutil.Load(body, contentType)
	if err != nil {
		return ""
	}
	href := htmlutil.AttrOf(doc,
		`head link[rel="alternate"][type="application/rss+xml"], head link[rel="alternate"][type="application/atom+xml"]`,
		"href")
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

// Prober fetches feeds.
type Prober struct {
	fetcher fetch.Fetcher
	logger  *slog.Logger
}

// New creates a Prober.
func New(f fetch.Fetcher, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{fetcher: f, logger: logger}
}

// Author fetches rawURL and parses its header author.
func (p *Prober) Author(ctx context.Context, rawURL string) (*Author, error) {
	resp, err := p.fetcher.Fetch(ctx, rawURL, fetch.AcceptFeed)
	if err != nil {
		return nil, err
	}
	return ParseAuthor(resp.Body)
}

// Probe treats rawURL as a feed. If it is an HTML page instead, the feed it advertises is
// probed once.
func (p *Prober) Probe(ctx context.Context, rawURL string) (*profile.Profile, error) {
	return p.probe(ctx, rawURL, true)
}

func (p *Prober) probe(ctx context.Context, rawURL string, discover bool) (*profile.Profile, error) {
	resp, err := p.fetcher.Fetch(ctx, rawURL, fetch.AcceptFeed)
	if err != nil {
		return nil, err
	}

	author, err := ParseAuthor(resp.Body)
	if err != nil {
		if !discover {
			return nil, err
		}
		link := DiscoverLink(resp.Body, resp.Header.Get("Content-Type"), resp.URL)
		if link == "" {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrNotFeed)
		}
		p.logger.DebugContext(ctx, "following feed autodiscovery", "page", rawURL, "feed", link)
		return p.probe(ctx, link, false)
	}

	pr := &profile.Profile{
		Network: profile.NetworkFeed,
		URL:     rawURL,
		Poll:    rawURL,
		Name:    author.Name,
		Nick:    author.Nick,
		Photo:   author.Avatar,
		Alias:   author.ID,
		BaseURL: author.Link,
	}
	if pr.BaseURL == "" {
		pr.BaseURL = rawURL
	}
	return pr, nil
}
