package hcard

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fedprobe/pkg/fetch/fetchtest"
	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

const friendicaHCard = `<!DOCTYPE html><html><head>
<link rel="dfrn-request" href="https://friendica.example/dfrn_request/alice" />
<link rel="dfrn-confirm" href="https://friendica.example/dfrn_confirm/alice" />
<link rel="dfrn-notify" href="https://friendica.example/dfrn_notify/alice" />
<link rel="dfrn-poll" href="https://friendica.example/dfrn_poll/alice" />
<link rel="stylesheet" href="/view/style.css" />
</head><body>
<div class="vcard">
  <dl class="entity_uid"><dd><span class="uid">alice</span></dd></dl>
  <dl class="entity_nickname"><dd><span class="nickname">alice</span></dd></dl>
  <dl class="entity_fn"><dd><span class="fn">Alice Example</span></dd></dl>
  <dl class="entity_searchable"><dd><span class="searchable">true</span></dd></dl>
  <img class="photo avatar" src="/photo/profile/alice.jpg?ts=1" width="300" height="300" />
  <img class="photo avatar" src="/photo/micro/alice.jpg" width="48" height="48" />
</div>
</body></html>`

func diasporaHCard(key string) string {
	return `<html><body><div id="content"><div class="h-card vcard">
<dl class="entity_uid"><dd><span class="uid p-uid">f00dfeed</span></dd></dl>
<dl class="entity_nickname"><dd><span class="nickname p-nickname">bob</span></dd></dl>
<dl class="entity_full_name"><dd><span class="fn p-name">Bob Example</span></dd></dl>
<dl class="entity_key"><dd><pre class="key">` + key + `</pre></dd></dl>
<dl class="entity_url"><dd><a id="pod_location" class="url" href="https://pod.example/">https://pod.example/</a></dd></dl>
<dl class="entity_photo"><dd><img class="photo avatar u-photo" src="https://pod.example/uploads/l_bob.jpg" height="300" width="300"></dd></dl>
<dl class="entity_photo_medium"><dd><img class="photo avatar" src="https://pod.example/uploads/m_bob.jpg" height="100" width="100"></dd></dl>
</div></div></body></html>`
}

func TestParseFriendica(t *testing.T) {
	card, err := Parse([]byte(friendicaHCard), "text/html; charset=utf-8", "https://friendica.example/hcard/alice")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	want := &Card{
		Source:     "https://friendica.example/hcard/alice",
		GUID:       "alice",
		Nick:       "alice",
		Name:       "Alice Example",
		Searchable: "true",
		Photo:      "/photo/profile/alice.jpg?ts=1",
		DFRN: map[string]string{
			"request": "https://friendica.example/dfrn_request/alice",
			"confirm": "https://friendica.example/dfrn_confirm/alice",
			"notify":  "https://friendica.example/dfrn_notify/alice",
			"poll":    "https://friendica.example/dfrn_poll/alice",
		},
	}
	if diff := cmp.Diff(want, card); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeDFRN(t *testing.T) {
	card, err := Parse([]byte(friendicaHCard), "text/html", "https://friendica.example/hcard/alice")
	if err != nil {
		t.Fatal(err)
	}
	p := &profile.Profile{Network: profile.NetworkDFRN, Poll: "https://friendica.example/dfrn_poll/alice"}
	card.Merge(p, true)

	if p.GUID != "" {
		t.Errorf("GUID = %q, want dropped because it equals the nick", p.GUID)
	}
	if p.Request != "https://friendica.example/dfrn_request/alice" || p.Confirm == "" || p.Notify == "" {
		t.Errorf("DFRN endpoints not merged: %+v", p)
	}
	if p.Photo != "https://friendica.example/photo/profile/alice.jpg?ts=1" {
		t.Errorf("Photo = %q", p.Photo)
	}
}

func TestMergeWithoutDFRNKeepsEndpointsEmpty(t *testing.T) {
	card, err := Parse([]byte(friendicaHCard), "text/html", "https://friendica.example/hcard/alice")
	if err != nil {
		t.Fatal(err)
	}
	p := &profile.Profile{GUID: "from-lrdd"}
	card.Merge(p, false)
	if p.Request != "" || p.Notify != "" {
		t.Errorf("non-DFRN merge copied endpoints: %+v", p)
	}
	if p.GUID != "from-lrdd" {
		t.Errorf("GUID = %q, want lrdd value kept", p.GUID)
	}
}

func TestScrapeDiaspora(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := string(pem.EncodeToMemory(&pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey)}))

	f := fetchtest.New().Serve("https://pod.example/hcard/users/f00dfeed", diasporaHCard(keyPEM))
	card, err := New(f, nil).Scrape(context.Background(), "https://pod.example/hcard/users/f00dfeed")
	if err != nil {
		t.Fatalf("Scrape() error = %v", err)
	}

	if card.GUID != "f00dfeed" || card.Nick != "bob" || card.Name != "Bob Example" {
		t.Errorf("identity fields = %q %q %q", card.GUID, card.Nick, card.Name)
	}
	if card.BaseURL != "https://pod.example" {
		t.Errorf("BaseURL = %q", card.BaseURL)
	}
	if card.Photo != "https://pod.example/uploads/l_bob.jpg" {
		t.Errorf("Photo = %q, want widest image", card.Photo)
	}
	if !strings.HasPrefix(card.PubKey, "-----BEGIN PUBLIC KEY-----") {
		t.Errorf("PubKey = %q, want PKIX PEM", card.PubKey)
	}
	if got := f.Requests()[0].Accept; !strings.Contains(got, "text/html") {
		t.Errorf("Accept = %q", got)
	}
}

func TestWidestPhotoWithoutWidth(t *testing.T) {
	page := `<html><body><div class="vcard">
<img class="photo" src="/a.png"><img class="avatar" src="/b.png">
</div></body></html>`
	card, err := Parse([]byte(page), "text/html", "https://hub.example/hcard/x")
	if err != nil {
		t.Fatal(err)
	}
	if card.Photo != "/a.png" {
		t.Errorf("Photo = %q, want first image", card.Photo)
	}
}

func TestPhotoOutsideVCard(t *testing.T) {
	page := `<html><body><img class="avatar" src="/only.png" width="80"></body></html>`
	card, err := Parse([]byte(page), "text/html", "https://hub.example/hcard/x")
	if err != nil {
		t.Fatal(err)
	}
	if card.Photo != "/only.png" || card.Nick != "" {
		t.Errorf("card = %+v", card)
	}
}
