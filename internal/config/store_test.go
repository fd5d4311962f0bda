package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	s := NewStore(path)
	if _, err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return s, path
}

func TestLoadSynthesizesDefaults(t *testing.T) {
	s, path := newTestStore(t)

	cfg := s.Current()
	if cfg.ChannelName != "" || cfg.PicturePath != "" {
		t.Fatalf("defaults should leave channel/picture empty, got %+v", cfg)
	}
	if cfg.PostInterval.Duration() != DefaultInterval {
		t.Fatalf("default interval = %v, want %v", cfg.PostInterval.Duration(), DefaultInterval)
	}
	if cfg.LastPostTime != nil {
		t.Fatalf("fresh config must have no last post time")
	}

	// The synthesized record must be persisted before Load returns.
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults were not written: %v", err)
	}
	again, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.PostInterval.Duration() != DefaultInterval {
		t.Fatalf("reload interval = %v", again.PostInterval.Duration())
	}
}

func TestUpdateRoundTripAcrossRestart(t *testing.T) {
	s, path := newTestStore(t)

	now := time.Now()
	_, err := s.Update(func(c Config) Config {
		c.ChannelName = "@mychannel"
		c.PicturePath = "pictures/p.jpg"
		c.PostInterval = Interval(6 * time.Hour)
		c.LastPostTime = NewUnixTime(now)
		return c
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	// simulated restart
	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load after restart: %v", err)
	}
	if got.ChannelName != "@mychannel" || got.PicturePath != "pictures/p.jpg" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.PostInterval.Duration() != 6*time.Hour {
		t.Fatalf("interval = %v", got.PostInterval.Duration())
	}
	if got.LastPostTime == nil || got.LastPostTime.Time().Unix() != now.Unix() {
		t.Fatalf("last post time not preserved: %v", got.LastPostTime)
	}
}

func TestUpdateRejectsBadIntervalAndKeepsState(t *testing.T) {
	s, path := newTestStore(t)

	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = "@ok"
		return c
	}); err != nil {
		t.Fatalf("setup update: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	prior, err := s.Update(func(c Config) Config {
		c.PostInterval = Interval(time.Second)
		return c
	})
	if err == nil {
		t.Fatal("expected validation error for sub-minimum interval")
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "post_interval" {
		t.Fatalf("expected post_interval ValidationError, got %v", err)
	}
	if prior.ChannelName != "@ok" || prior.PostInterval.Duration() != DefaultInterval {
		t.Fatalf("prior record not returned: %+v", prior)
	}
	if s.Current().PostInterval.Duration() != DefaultInterval {
		t.Fatalf("in-memory record changed after failed update")
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatalf("file changed after failed update")
	}
}

func TestUpdateCannotUnsetConfiguredFields(t *testing.T) {
	s, _ := newTestStore(t)

	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = "@chan"
		c.PicturePath = "p.jpg"
		return c
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = ""
		return c
	}); err == nil {
		t.Fatal("unsetting channel must fail")
	}
	if _, err := s.Update(func(c Config) Config {
		c.PicturePath = ""
		return c
	}); err == nil {
		t.Fatal("unsetting picture must fail")
	}
	if got := s.Current(); got.ChannelName != "@chan" || got.PicturePath != "p.jpg" {
		t.Fatalf("record mutated by rejected updates: %+v", got)
	}
}

func TestLoadIgnoresLeftoverTempFile(t *testing.T) {
	s, path := newTestStore(t)
	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = "@survivor"
		return c
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Simulate a crash mid-write: a partial temp file next to a good record.
	if err := os.WriteFile(path+".tmp", []byte(`{"bot_token":"trunc`), 0o600); err != nil {
		t.Fatalf("write tmp: %v", err)
	}

	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load with leftover tmp: %v", err)
	}
	if got.ChannelName != "@survivor" {
		t.Fatalf("expected committed record, got %+v", got)
	}
}

func TestLoadRejectsCorruptRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"bot_token": "x", "unknown_field": 1}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}

	if err := os.WriteFile(path, []byte(`{"bot_token"`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStore(path).Load(); err == nil {
		t.Fatal("expected error for truncated record")
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(
		"bot_token: tok\nadmin_id: 42\nchannel_name: \"@c\"\npicture_path: p.jpg\npost_interval: 12h\nlast_post_time: null\n",
	), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewStore(path)
	cfg, err := s.Load()
	if err != nil {
		t.Fatalf("Load yaml: %v", err)
	}
	if cfg.AdminID != 42 || cfg.PostInterval.Duration() != 12*time.Hour {
		t.Fatalf("unexpected: %+v", cfg)
	}

	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = "@other"
		return c
	}); err != nil {
		t.Fatalf("Update yaml: %v", err)
	}
	got, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("reload yaml: %v", err)
	}
	if got.ChannelName != "@other" || got.BotToken != "tok" {
		t.Fatalf("yaml round trip lost data: %+v", got)
	}
}

func TestSubscribeReceivesCommittedSnapshots(t *testing.T) {
	s, _ := newTestStore(t)
	ch := s.Subscribe(2)
	defer s.Unsubscribe(ch)

	if _, err := s.Update(func(c Config) Config {
		c.ChannelName = "@sub"
		return c
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	select {
	case got := <-ch:
		if got.ChannelName != "@sub" {
			t.Fatalf("snapshot = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot published")
	}
}

func TestSubscribeDeliversInCommitOrder(t *testing.T) {
	s, _ := newTestStore(t)
	const n = 32
	ch := s.Subscribe(n)
	defer s.Unsubscribe(ch)

	// Snapshots must arrive in commit order, or a subscriber acting on them
	// (the app rescheduling the timer) would end up applying a stale value
	// while Current() already holds a newer one.
	for i := 1; i <= n; i++ {
		if _, err := s.Update(func(c Config) Config {
			c.PostInterval = Interval(time.Duration(i) * time.Minute)
			return c
		}); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}

	prev := time.Duration(0)
	for i := 1; i <= n; i++ {
		select {
		case got := <-ch:
			if d := got.PostInterval.Duration(); d <= prev {
				t.Fatalf("snapshot %d out of order: %v after %v", i, d, prev)
			} else {
				prev = d
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d snapshots delivered", i-1, n)
		}
	}
	if prev != n*time.Minute {
		t.Fatalf("final snapshot interval = %v, want %v", prev, n*time.Minute)
	}
}

func TestReadFileReportsNotFound(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	if _, err := s.readFile(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("readFile on missing path = %v, want ErrNotFound", err)
	}
}

func TestLoadRejectsIntervalBelowFloor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := `{"bot_token":"","admin_id":0,"channel_name":"","picture_path":"","post_interval":"5s","last_post_time":null}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	_, err := NewStore(path).Load()
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "post_interval" {
		t.Fatalf("Load = %v, want post_interval ValidationError", err)
	}
}
