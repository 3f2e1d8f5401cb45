package profile

import "strings"

// Network identifies the protocol a remote identity speaks.
type Network string

// Networks known to the resolver.
const (
	NetworkDFRN     Network = "dfrn"
	NetworkDiaspora Network = "dspr"
	NetworkOStatus  Network = "stat"
	NetworkPumpIO   Network = "pump"
	NetworkFeed     Network = "feed"
	NetworkMail     Network = "mail"
	NetworkTwitter  Network = "twit"
	NetworkUnknown  Network = "phant"
)

var networkNames = map[Network]string{
	NetworkDFRN:     "DFRN",
	NetworkDiaspora: "Diaspora",
	NetworkOStatus:  "OStatus",
	NetworkPumpIO:   "pump.io",
	NetworkFeed:     "Feed",
	NetworkMail:     "Mail",
	NetworkTwitter:  "Twitter",
	NetworkUnknown:  "Unknown",
}

// String returns a human readable network name.
func (n Network) String() string {
	if name, ok := networkNames[n]; ok {
		return name
	}
	return string(n)
}

// ParseNetwork accepts either the wire code ("dspr") or the readable name ("diaspora").
// The empty string parses to the empty Network, meaning "any".
func ParseNetwork(s string) (Network, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", true
	}
	for n, name := range networkNames {
		if s == string(n) || s == strings.ToLower(name) {
			return n, true
		}
	}
	switch s {
	case "pumpio", "pump":
		return NetworkPumpIO, true
	case "ostatus":
		return NetworkOStatus, true
	case "unknown":
		return NetworkUnknown, true
	}
	return "", false
}

// nonFederatedHosts are proprietary networks that never need probing.
var nonFederatedHosts = map[string]Network{
	"twitter.com":        NetworkTwitter,
	"www.twitter.com":    NetworkTwitter,
	"mobile.twitter.com": NetworkTwitter,
	"x.com":              NetworkTwitter,
}

// NonFederated returns the proprietary network served by host, if any.
func NonFederated(host string) (Network, bool) {
	n, ok := nonFederatedHosts[strings.ToLower(host)]
	return n, ok
}
