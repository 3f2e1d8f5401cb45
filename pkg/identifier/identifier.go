// Package identifier classifies user supplied identities before any network access.
package identifier

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"

	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

// Kind is the broad shape of an identifier.
type Kind int

// Identifier kinds.
const (
	Invalid Kind = iota
	URL          // scheme://host[/path]
	Handle       // nick@host, acct:nick@host or @nick@host
	Mail         // mailto:nick@host
)

func (k Kind) String() string {
	switch k {
	case URL:
		return "url"
	case Handle:
		return "handle"
	case Mail:
		return "mail"
	default:
		return "invalid"
	}
}

// Identifier is a classified identity.
type Identifier struct {
	Raw      string
	Kind     Kind
	Scheme   string   // only set for URL identifiers
	Host     string   // lower-case ASCII host, including any port
	Segments []string // non-empty path segments of a URL identifier
	Nick     string
	Addr     string // nick@host, synthesized for URL identifiers

	// Network is set when Host belongs to a proprietary network that must not be probed.
	Network profile.Network
}

// Hostname returns Host without its port.
func (id Identifier) Hostname() string {
	if h, _, err := net.SplitHostPort(id.Host); err == nil {
		return h
	}
	return id.Host
}

// NonFederated reports whether the identifier short-circuits to a proprietary network.
func (id Identifier) NonFederated() bool {
	return id.Network != ""
}

// Classify parses raw into an Identifier.
func Classify(raw string) Identifier {
	raw = strings.TrimSpace(raw)
	id := Identifier{Raw: raw}
	if raw == "" {
		return id
	}

	if rest, ok := cutPrefixFold(raw, "mailto:"); ok {
		nick, host, found := strings.Cut(rest, "@")
		if !found || nick == "" || host == "" {
			return id
		}
		id.Kind = Mail
		id.Host = normaliseHost(host)
		id.Nick = nick
		id.Addr = nick + "@" + id.Host
		return id
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		id.Kind = URL
		id.Scheme = strings.ToLower(u.Scheme)
		id.Host = normaliseHost(u.Host)
		for seg := range strings.SplitSeq(u.Path, "/") {
			if seg != "" {
				id.Segments = append(id.Segments, seg)
			}
		}
		if n := len(id.Segments); n > 0 {
			id.Nick = strings.TrimPrefix(id.Segments[n-1], "@")
		}
		if id.Nick != "" {
			id.Addr = id.Nick + "@" + id.Hostname()
		}
		id.Network, _ = profile.NonFederated(id.Hostname())
		return id
	}

	handle, _ := cutPrefixFold(raw, "acct:")
	handle = strings.TrimPrefix(handle, "@")
	nick, host, found := strings.Cut(handle, "@")
	if !found || nick == "" || host == "" || strings.ContainsAny(host, "/@ ") {
		return id
	}
	id.Kind = Handle
	id.Host = normaliseHost(host)
	id.Nick = nick
	id.Addr = nick + "@" + id.Host
	id.Network, _ = profile.NonFederated(id.Hostname())
	return id
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}

// normaliseHost lower-cases host and converts internationalised names to ASCII.
func normaliseHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	name, port, err := net.SplitHostPort(host)
	if err != nil {
		name, port = host, ""
	}
	if ascii, err := idna.Lookup.ToASCII(name); err == nil && ascii != "" {
		name = ascii
	}
	if port != "" {
		return net.JoinHostPort(name, port)
	}
	return name
}
