package identifier

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		raw  string
		want Identifier
	}{
		{
			raw: "alice@example.org",
			want: Identifier{
				Raw: "alice@example.org", Kind: Handle, Host: "example.org",
				Nick: "alice", Addr: "alice@example.org",
			},
		},
		{
			raw: "acct:Bob@Example.ORG",
			want: Identifier{
				Raw: "acct:Bob@Example.ORG", Kind: Handle, Host: "example.org",
				Nick: "Bob", Addr: "Bob@example.org",
			},
		},
		{
			raw: "@carol@social.example",
			want: Identifier{
				Raw: "@carol@social.example", Kind: Handle, Host: "social.example",
				Nick: "carol", Addr: "carol@social.example",
			},
		},
		{
			raw: "mailto:dave@mail.example",
			want: Identifier{
				Raw: "mailto:dave@mail.example", Kind: Mail, Host: "mail.example",
				Nick: "dave", Addr: "dave@mail.example",
			},
		},
		{
			raw: "https://mastodon.example/@erin",
			want: Identifier{
				Raw: "https://mastodon.example/@erin", Kind: URL, Scheme: "https",
				Host: "mastodon.example", Segments: []string{"@erin"},
				Nick: "erin", Addr: "erin@mastodon.example",
			},
		},
		{
			raw: "http://Friendica.Example:8080/sub/profile/frank/",
			want: Identifier{
				Raw: "http://Friendica.Example:8080/sub/profile/frank/", Kind: URL, Scheme: "http",
				Host: "friendica.example:8080", Segments: []string{"sub", "profile", "frank"},
				Nick: "frank", Addr: "frank@friendica.example",
			},
		},
		{
			raw:  "https://blog.example",
			want: Identifier{Raw: "https://blog.example", Kind: URL, Scheme: "https", Host: "blog.example"},
		},
		{
			raw: "https://bücher.example/u/gina",
			want: Identifier{
				Raw: "https://bücher.example/u/gina", Kind: URL, Scheme: "https",
				Host: "xn--bcher-kva.example", Segments: []string{"u", "gina"},
				Nick: "gina", Addr: "gina@xn--bcher-kva.example",
			},
		},
		{
			raw: "https://twitter.com/henry",
			want: Identifier{
				Raw: "https://twitter.com/henry", Kind: URL, Scheme: "https",
				Host: "twitter.com", Segments: []string{"henry"},
				Nick: "henry", Addr: "henry@twitter.com", Network: profile.NetworkTwitter,
			},
		},
		{
			raw: "ivy@x.com",
			want: Identifier{
				Raw: "ivy@x.com", Kind: Handle, Host: "x.com",
				Nick: "ivy", Addr: "ivy@x.com", Network: profile.NetworkTwitter,
			},
		},
		{raw: "", want: Identifier{}},
		{raw: "not an identity", want: Identifier{Raw: "not an identity"}},
		{raw: "@example.org", want: Identifier{Raw: "@example.org"}},
		{raw: "mailto:nobody", want: Identifier{Raw: "mailto:nobody"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := Classify(tt.raw)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Classify(%q) mismatch (-want +got):\n%s", tt.raw, diff)
			}
		})
	}
}

func TestHostname(t *testing.T) {
	id := Classify("http://example.com:8080/profile/alice")
	if got := id.Hostname(); got != "example.com" {
		t.Errorf("Hostname() = %q, want %q", got, "example.com")
	}
	if id.Host != "example.com:8080" {
		t.Errorf("Host = %q, want port kept", id.Host)
	}
}

func TestKindString(t *testing.T) {
	if got := Handle.String(); got != "handle" {
		t.Errorf("Handle.String() = %q", got)
	}
	if got := Kind(42).String(); got != "invalid" {
		t.Errorf("Kind(42).String() = %q", got)
	}
}
