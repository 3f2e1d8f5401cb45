package webfinger

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/emersion/go-ostatus/xrd"
	"golang.org/x/net/html/charset"
)

// Link relations used by the federation protocols.
//
//nolint:revive // relation names are URIs, not URLs to fetch
const (
	RelLRDD         = "lrdd"
	RelDFRN         = "http://purl.org/macgirvin/dfrn/1.0"
	RelFeed         = "http://schemas.google.com/g/2010#updates-from"
	RelHCard        = "http://microformats.org/profile/hcard"
	RelProfilePage  = "http://webfinger.net/rel/profile-page"
	RelAvatar       = "http://webfinger.net/rel/avatar"
	RelSeedLocation = "http://joindiaspora.com/seed_location"
	RelGUID         = "http://joindiaspora.com/guid"
	RelPoco         = "http://portablecontacts.net/spec/1.0"
	RelDiasporaKey  = "diaspora-public-key"
	RelSalmon       = "salmon"
	RelOStatusSub   = "http://ostatus.org/schema/1.0/subscribe"
	RelMagicKey     = "magic-public-key"
	RelInbox        = "activity-inbox"
	RelOutbox       = "activity-outbox"
	RelDialback     = "dialback"
)

const xrdNamespace = "http://docs.oasis-open.org/ns/xri/xrd-1.0"

// ErrMalformed is returned when a body is neither JRD nor XRD.
var ErrMalformed = errors.New("malformed discovery document")

// Link is one descriptor link.
type Link struct {
	Rel      string
	Type     string
	Href     string
	Template string
}

// Document is a webfinger or host-meta descriptor, whichever encoding it arrived in.
type Document struct {
	Subject string
	Aliases []string
	Links   []Link
}

// Parse decodes a JRD (JSON) or XRD (XML) descriptor.
func Parse(body []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformed)
	}

	var res xrd.Resource
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &res); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		return fromResource(&res), nil
	}

	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	root, err := rootElement(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if root.Name.Local != "XRD" {
		return nil, fmt.Errorf("%w: root element <%s>", ErrMalformed, root.Name.Local)
	}
	if root.Name.Space == "" {
		// some servers omit the namespace, which xrd.Resource insists on
		root.Name.Space = xrdNamespace
	}
	if err := dec.DecodeElement(&res, &root); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return fromResource(&res), nil
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

func fromResource(res *xrd.Resource) *Document {
	doc := &Document{Subject: res.Subject, Aliases: res.Aliases}
	for _, l := range res.Links {
		if l == nil {
			continue
		}
		doc.Links = append(doc.Links, Link{Rel: l.Rel, Type: l.Type, Href: l.Href, Template: l.Template})
	}
	return doc
}

// Advertises reports whether a link with rel carries an href or a template.
func (d *Document) Advertises(rel string) bool {
	for _, l := range d.Links {
		if l.Rel == rel && (l.Href != "" || l.Template != "") {
			return true
		}
	}
	return false
}

// Has reports whether a link with rel and a non-empty href is present.
func (d *Document) Has(rel string) bool {
	return d.Href(rel) != ""
}

// Href returns the href of the first link with rel, or "".
func (d *Document) Href(rel string) string {
	for _, l := range d.Links {
		if l.Rel == rel && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// HrefTyped returns the href of the first link with rel and type.
func (d *Document) HrefTyped(rel, typ string) string {
	for _, l := range d.Links {
		if l.Rel == rel && l.Type == typ && l.Href != "" {
			return l.Href
		}
	}
	return ""
}

// ProfilePage returns the text/html profile page link.
func (d *Document) ProfilePage() string {
	return d.HrefTyped(RelProfilePage, "text/html")
}
