package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch/fetchtest"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

const gnusocialAtom = `<?xml version="1.0" encoding="UTF-8"?>
<feed xml:lang="en-US" xmlns="http://www.w3.org/2005/Atom"
      xmlns:poco="http://portablecontacts.net/spec/1.0"
      xmlns:activity="http://activitystrea.ms/spec/1.0/">
 <generator uri="https://gnu.io/social" version="1.2.0">GNU social</generator>
 <id>https://gs.example/api/statuses/user_timeline/1.atom</id>
 <title>carol timeline</title>
 <subtitle>Updates from carol on GS Example!</subtitle>
 <logo>https://gs.example/avatar/1-96.png</logo>
 <updated>2017-03-01T10:00:00+00:00</updated>
 <author>
  <activity:object-type>http://activitystrea.ms/schema/1.0/person</activity:object-type>
  <uri>https://gs.example/user/1</uri>
  <name>carol</name>
  <link rel="alternate" type="text/html" href="https://gs.example/carol"/>
  <link rel="avatar" type="image/png" media:width="96" href="https://gs.example/avatar/1-96.png"/>
  <poco:preferredUsername>carol</poco:preferredUsername>
  <poco:displayName>Carol Example</poco:displayName>
  <poco:note>Writes about federation.</poco:note>
  <poco:address><poco:formatted>Berlin, Germany</poco:formatted></poco:address>
 </author>
 <link href="https://gs.example/carol" rel="alternate" type="text/html"/>
 <link href="https://gs.example/api/statuses/user_timeline/1.atom" rel="self" type="application/atom+xml"/>
 <entry><title>hello</title><id>tag:gs.example,2017:1</id></entry>
</feed>`

const plainRSS = `<?xml version="1.0" encoding="windows-1252"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom">
 <channel>
  <atom:link href="https://blog.example/feed.xml" rel="self" type="application/rss+xml"/>
  <title>Dave's Blog</title>
  <link>https://blog.example/</link>
  <description>Notes</description>
  <image><url>https://blog.example/logo.png</url><title>x</title><link>https://blog.example/</link></image>
  <item><title>post</title><link>https://blog.example/post</link></item>
 </channel>
</rss>`

const rdfFeed = `<?xml version="1.0"?>
<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns="http://purl.org/rss/1.0/">
 <channel rdf:about="https://old.example/">
  <title></title>
  <link>https://old.example/</link>
  <description>Erin's old site</description>
 </channel>
 <item rdf:about="https://old.example/1"><title>one</title><link>https://old.example/1</link></item>
</rdf:RDF>`

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *Author
	}{
		{
			name: "atom with poco",
			body: gnusocialAtom,
			want: &Author{
				Link:     "https://gs.example/carol",
				ID:       "https://gs.example/user/1",
				Name:     "Carol Example",
				Nick:     "carol",
				Avatar:   "https://gs.example/avatar/1-96.png",
				Location: "Berlin, Germany",
				About:    "Writes about federation.",
			},
		},
		{
			name: "rss",
			body: plainRSS,
			want: &Author{
				Link:   "https://blog.example/",
				Name:   "Dave's Blog",
				Avatar: "https://blog.example/logo.png",
			},
		},
		{
			name: "rdf falls back to description",
			body: rdfFeed,
			want: &Author{Link: "https://old.example/", Name: "Erin's old site"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAuthor([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseAuthor() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseAuthor() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseAuthorRejectsHTML(t *testing.T) {
	_, err := ParseAuthor([]byte(`<!DOCTYPE html><html><head><title>x</title></head></html>`))
	if !errors.Is(err, ErrNotFeed) {
		t.Errorf("ParseAuthor(html) error = %v, want ErrNotFeed", err)
	}
}

func TestAutodiscovery(t *testing.T) {
	page := `<html><head>
<link rel="stylesheet" href="/style.css">
<link rel="alternate" type="application/rss+xml" href="/feed.xml" title="RSS">
</head><body>hi</body></html>`

	f := fetchtest.New().
		Serve("https://blog.example/", page).
		Serve("https://blog.example/feed.xml", plainRSS)

	got, err := New(f, nil).Probe(context.Background(), "https://blog.example/")
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}

	want := &profile.Profile{
		Network: profile.NetworkFeed,
		URL:     "https://blog.example/feed.xml",
		Poll:    "https://blog.example/feed.xml",
		Name:    "Dave's Blog",
		Photo:   "https://blog.example/logo.png",
		BaseURL: "https://blog.example/",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Probe() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscoversOnlyOnce(t *testing.T) {
	f := fetchtest.New().
		Serve("https://a.example/", `<html><head><link rel="alternate" type="application/atom+xml" href="https://a.example/next"></head></html>`).
		Serve("https://a.example/next", `<html><head><link rel="alternate" type="application/atom+xml" href="https://a.example/again"></head></html>`)

	if _, err := New(f, nil).Probe(context.Background(), "https://a.example/"); !errors.Is(err, ErrNotFeed) {
		t.Fatalf("Probe() error = %v, want ErrNotFeed", err)
	}
	if f.Requested("https://a.example/again") {
		t.Error("autodiscovery recursed more than one level")
	}
}

func TestFeedWithoutLink(t *testing.T) {
	body := `<feed xmlns="http://www.w3.org/2005/Atom"><title>t</title></feed>`
	f := fetchtest.New().Serve("https://x.example/atom", body)
	got, err := New(f, nil).Probe(context.Background(), "https://x.example/atom")
	if err != nil {
		t.Fatal(err)
	}
	if got.BaseURL != "https://x.example/atom" {
		t.Errorf("BaseURL = %q, want the feed url", got.BaseURL)
	}
}
