package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

func TestBuildUpsert(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args := buildUpsert("gcontact", []string{"nurl"},
		[]column{{"nurl", "http://example.org/u/bob"}},
		[]column{{"name", "Bob"}, {"nick", "bob"}},
		column{"updated", stamp})

	wantQuery := "INSERT INTO gcontact (nurl, name, nick, updated) VALUES ($1, $2, $3, $4) " +
		"ON CONFLICT (nurl) DO UPDATE SET name = EXCLUDED.name, nick = EXCLUDED.nick, updated = EXCLUDED.updated"
	if query != wantQuery {
		t.Errorf("query =\n%s\nwant\n%s", query, wantQuery)
	}
	wantArgs := []any{"http://example.org/u/bob", "Bob", "bob", stamp}
	if diff := cmp.Diff(wantArgs, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestNonEmptyKeepsOnlyFilledFields(t *testing.T) {
	p := &profile.Profile{
		Network: profile.NetworkDiaspora,
		URL:     "https://example.org/u/bob",
		Name:    "Bob",
		Batch:   "https://example.org/receive/public",
	}
	var got []string
	for _, c := range nonEmpty(contactColumns(p)) {
		got = append(got, c.name)
	}
	want := []string{"name", "url", "batch", "network"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	got = got[:0]
	for _, c := range nonEmpty(directoryColumns(p)) {
		got = append(got, c.name)
	}
	want = []string{"name", "url", "network"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("directory columns mismatch (-want +got):\n%s", diff)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("FEDPROBE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FEDPROBE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() }) //nolint:errcheck // test cleanup
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestUpsertPreservesStoredFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	url := "https://example.org/profile/upsert-" + time.Now().Format("150405.000000")

	first := &profile.Profile{
		Network: profile.NetworkDFRN, URL: url, Name: "Bob", Nick: "bob",
		Addr: "bob@example.org", Poll: url + "/poll", About: "hello",
	}
	if err := s.Upsert(ctx, first); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	second := first.Clone()
	second.About = ""
	second.Name = "Robert"
	if err := s.Upsert(ctx, second); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	var name, about string
	err := s.db.QueryRowContext(ctx,
		"SELECT name, about FROM contact WHERE nurl = $1 AND uid = 0 AND self = FALSE",
		profile.NormaliseLink(url)).Scan(&name, &about)
	if err != nil {
		t.Fatalf("select contact: %v", err)
	}
	if name != "Robert" || about != "hello" {
		t.Errorf("contact = (%q, %q), want (Robert, hello)", name, about)
	}

	err = s.db.QueryRowContext(ctx, "SELECT name FROM gcontact WHERE nurl = $1",
		profile.NormaliseLink(url)).Scan(&name)
	if err != nil {
		t.Fatalf("select gcontact: %v", err)
	}
	if name != "Robert" {
		t.Errorf("gcontact name = %q, want Robert", name)
	}
}

func TestMailAccount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	nick := "mailer-" + time.Now().Format("150405.000000")

	var uid int64
	if err := s.db.QueryRowContext(ctx,
		"INSERT INTO users (nickname, prvkey) VALUES ($1, 'KEY') RETURNING uid", nick).Scan(&uid); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO mailacct (uid, server, port, ssltype, "user", pass) VALUES ($1, 'imap.example.org', 993, 'ssl', 'me', 'abcd')`,
		uid); err != nil {
		t.Fatalf("insert mailacct: %v", err)
	}

	acct, err := s.MailAccount(ctx, uid)
	if err != nil {
		t.Fatalf("MailAccount: %v", err)
	}
	if acct.Server != "imap.example.org" || acct.Port != 993 || acct.Mailbox != "INBOX" || acct.PrivateKey != "KEY" {
		t.Errorf("MailAccount = %+v", acct)
	}

	if _, err := s.MailAccount(ctx, -1); !errors.Is(err, ErrNotFound) {
		t.Errorf("MailAccount(-1) error = %v, want ErrNotFound", err)
	}
}

