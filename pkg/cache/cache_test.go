package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/codeGROOVE-dev/fedprobe/pkg/profile"
)

func completeProfile() *profile.Profile {
	return &profile.Profile{
		Network: profile.NetworkDFRN,
		URL:     "https://example.org/profile/bob",
		Addr:    "bob@example.org",
		Nick:    "bob",
		Name:    "Bob",
		Poll:    "https://example.org/dfrn_poll/bob",
	}
}

func TestGetSetCachesCompleteProfiles(t *testing.T) {
	c, err := NewWithPath(0, t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	var calls int
	resolve := func(context.Context) (*profile.Profile, error) {
		calls++
		return completeProfile(), nil
	}

	key := Key("", "bob@example.org")
	first, err := c.GetSet(context.Background(), key, resolve)
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	second, err := c.GetSet(context.Background(), key, resolve)
	if err != nil {
		t.Fatalf("GetSet: %v", err)
	}
	if calls != 1 {
		t.Errorf("resolve called %d times, want 1", calls)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("cached profile differs (-first +second):\n%s", diff)
	}
	if first == second {
		t.Error("cache returned a shared pointer")
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 {
		t.Errorf("Stats = %+v, want 1 hit 1 miss", s)
	}
}

func TestGetSetSkipsUncacheable(t *testing.T) {
	tests := []struct {
		name string
		p    *profile.Profile
	}{
		{"unknown", profile.Unknown("https://example.org/")},
		{"mail", &profile.Profile{Network: profile.NetworkMail, URL: "mailto:a@example.org", Addr: "a@example.org", Nick: "a", Name: "a", Poll: "email x"}},
		{"incomplete", &profile.Profile{Network: profile.NetworkOStatus, URL: "https://example.org/u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewWithPath(0, t.TempDir())
			if err != nil {
				t.Fatalf("NewWithPath: %v", err)
			}
			var calls int
			resolve := func(context.Context) (*profile.Profile, error) {
				calls++
				return tt.p, nil
			}
			for range 2 {
				got, err := c.GetSet(context.Background(), Key("", tt.name), resolve)
				if err != nil {
					t.Fatalf("GetSet: %v", err)
				}
				if got.Network != tt.p.Network {
					t.Errorf("Network = %q, want %q", got.Network, tt.p.Network)
				}
			}
			if calls != 2 {
				t.Errorf("resolve called %d times, want 2", calls)
			}
		})
	}
}

func TestGetSetUncacheableCopiesPerCaller(t *testing.T) {
	c, err := NewWithPath(0, t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	shared := profile.Unknown("https://example.org/")
	release := make(chan struct{})
	resolve := func(context.Context) (*profile.Profile, error) {
		<-release
		return shared, nil
	}

	results := make([]*profile.Profile, 4)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := c.GetSet(context.Background(), "uncacheable", resolve)
			if err != nil {
				t.Errorf("GetSet: %v", err)
				return
			}
			results[i] = p
		}()
	}
	close(release)
	wg.Wait()

	seen := map[*profile.Profile]bool{shared: true}
	for i, p := range results {
		if p == nil {
			continue
		}
		if seen[p] {
			t.Errorf("caller %d shares a profile pointer with another caller", i)
		}
		seen[p] = true
		if diff := cmp.Diff(shared, p); diff != "" {
			t.Errorf("caller %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	if results[0] == nil {
		t.Fatal("first caller got no profile")
	}
	results[0].Name = "changed"
	if shared.Name == "changed" {
		t.Error("mutating a returned profile changed the resolved one")
	}
}

func TestGetSetErrorNotCached(t *testing.T) {
	c, err := NewWithPath(0, t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	boom := errors.New("boom")
	var calls int
	resolve := func(context.Context) (*profile.Profile, error) {
		calls++
		if calls == 1 {
			return nil, boom
		}
		return completeProfile(), nil
	}

	if _, err := c.GetSet(context.Background(), "k", resolve); !errors.Is(err, boom) {
		t.Fatalf("first GetSet error = %v, want boom", err)
	}
	got, err := c.GetSet(context.Background(), "k", resolve)
	if err != nil {
		t.Fatalf("second GetSet: %v", err)
	}
	if got.Nick != "bob" {
		t.Errorf("Nick = %q, want bob", got.Nick)
	}
}

func TestGetSetConcurrent(t *testing.T) {
	c, err := NewWithPath(0, t.TempDir())
	if err != nil {
		t.Fatalf("NewWithPath: %v", err)
	}
	var calls atomic.Int64
	release := make(chan struct{})
	resolve := func(context.Context) (*profile.Profile, error) {
		calls.Add(1)
		<-release
		return completeProfile(), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.GetSet(context.Background(), "same", resolve); err != nil {
				t.Errorf("GetSet: %v", err)
			}
		}()
	}
	close(release)
	wg.Wait()

	if n := calls.Load(); n < 1 || n > 8 {
		t.Errorf("resolve called %d times", n)
	}
}

func TestNilCache(t *testing.T) {
	var c *Cache
	got, err := c.GetSet(context.Background(), "k", func(context.Context) (*profile.Profile, error) {
		return completeProfile(), nil
	})
	if err != nil || got.Nick != "bob" {
		t.Errorf("GetSet on nil cache = %+v, %v", got, err)
	}
	if c.TTL() != 0 {
		t.Errorf("TTL on nil cache = %v", c.TTL())
	}
}

func TestKey(t *testing.T) {
	if Key("", "a") == Key(profile.NetworkDFRN, "a") {
		t.Error("network filter must change the key")
	}
	if Key("", "a") != Key("", "a") {
		t.Error("Key is not deterministic")
	}
	if s := (Stats{Hits: 3, Misses: 1}).HitRate(); s != 75 {
		t.Errorf("HitRate = %v, want 75", s)
	}
}
