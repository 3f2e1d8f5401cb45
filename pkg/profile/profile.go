// Package profile defines the record produced by resolving a federated identity.
package profile

import (
	"errors"
	"net/url"
	"strings"
)

// Common errors returned by the probing packages.
var (
	ErrNotDetected = errors.New("identity not detected")
	ErrInvalidURL  = errors.New("invalid url")
)

// Profile is the canonical result of a resolution.
//
// Every field is always present in the serialized form: callers depend on a fixed shape,
// so nothing is tagged omitempty.
//
//nolint:govet // fieldalignment: intentional layout for readability
type Profile struct {
	Network Network `json:"network"`

	// Identity
	URL     string `json:"url"`
	Addr    string `json:"addr"`
	Alias   string `json:"alias"`
	Nick    string `json:"nick"`
	Name    string `json:"name"`
	Photo   string `json:"photo"`
	GUID    string `json:"guid"`
	BaseURL string `json:"baseurl"`

	// Protocol endpoints
	Poll    string `json:"poll"`
	Notify  string `json:"notify"`
	Request string `json:"request"`
	Confirm string `json:"confirm"`
	Batch   string `json:"batch"`
	Poco    string `json:"poco"`
	PubKey  string `json:"pubkey"` // PEM encoded

	// Descriptive
	Location  string `json:"location"`
	About     string `json:"about"`
	Keywords  string `json:"keywords"`
	Community bool   `json:"community"`
}

// Unknown returns the record used when nothing could be detected for identifier.
func Unknown(identifier string) *Profile {
	return &Profile{Network: NetworkUnknown, URL: identifier}
}

// Complete reports whether the fields required for caching and persistence are present.
func (p *Profile) Complete() bool {
	return p.Name != "" && p.Nick != "" && p.URL != "" && p.Addr != "" && p.Poll != ""
}

// Cacheable reports whether the record may be stored in the result cache.
func (p *Profile) Cacheable() bool {
	if p.Network == NetworkUnknown || p.Network == NetworkMail || p.Network == "" {
		return false
	}
	return p.Complete()
}

// Clone returns a copy of p.
func (p *Profile) Clone() *Profile {
	c := *p
	return &c
}

// FixAvatar mixes the scheme, host and port of base with the path, query and fragment of
// avatar. Parts present in avatar take precedence, so absolute avatar URLs pass through.
func FixAvatar(avatar, base string) string {
	a, err := url.Parse(strings.TrimSpace(avatar))
	if err != nil {
		return avatar
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return avatar
	}

	fixed := url.URL{
		Scheme:   b.Scheme,
		Host:     b.Host,
		Path:     a.Path,
		RawPath:  a.RawPath,
		RawQuery: a.RawQuery,
		Fragment: a.Fragment,
	}
	if a.Scheme != "" {
		fixed.Scheme = a.Scheme
	}
	if a.Host != "" {
		fixed.Host = a.Host
	}
	return fixed.String()
}

// NormaliseLink maps equivalent profile URLs onto one key: https becomes http, a leading
// "www." is dropped, and trailing slashes are removed.
func NormaliseLink(link string) string {
	link = strings.Replace(link, "https:", "http:", 1)
	link = strings.Replace(link, "//www.", "//", 1)
	return strings.TrimRight(link, "/")
}

// BaseURL returns the scheme and host of rawURL, or "" when it has neither.
func BaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
