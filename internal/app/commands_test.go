package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"picbot/internal/config"
	"picbot/internal/poster"
	"picbot/internal/router"
	"picbot/internal/scheduler"
	kit "picbot/internal/transport"
	"picbot/pkg/logx"
)

type fakeAdapter struct {
	sent   []string
	photos []string // channels posted to
}

func (f *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, chatID int64, text string) error {
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeAdapter) SendPhoto(ctx context.Context, channel, path string) error {
	f.photos = append(f.photos, channel)
	return nil
}

func (f *fakeAdapter) DownloadPhoto(ctx context.Context, fileID, dest string) error {
	return os.WriteFile(dest, []byte("jpeg"), 0o644)
}

func (f *fakeAdapter) lastReply(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1]
}

func newTestApp(t *testing.T) (*App, *fakeAdapter) {
	t.Helper()
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.json"))
	if _, err := store.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ad := &fakeAdapter{}
	sched := scheduler.New(scheduler.Config{}, logx.Nop())
	a := &App{
		opts:    testOpts(dir),
		store:   store,
		log:     logx.Nop(),
		adapter: ad,
		sched:   sched,
		post:    poster.New(store, ad, sched, logx.Nop()),
	}
	t.Cleanup(sched.Cancel)
	return a, ad
}

func testOpts(dir string) Options {
	return Options{
		ConfigPath:  filepath.Join(dir, "config.json"),
		PicturesDir: filepath.Join(dir, "pictures"),
	}
}

func request(ad *fakeAdapter, text string) *router.Request {
	fields := strings.Fields(text)
	return &router.Request{
		Msg:     kit.Message{ChatID: 1, FromID: 1, Text: text},
		Command: strings.TrimPrefix(fields[0], "/"),
		Args:    fields[1:],
		Adapter: ad,
		Log:     logx.Nop(),
	}
}

func TestCmdSetChannel(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	if err := a.cmdSetChannel(ctx, request(ad, "/setchannel mychannel")); err != nil {
		t.Fatalf("cmdSetChannel: %v", err)
	}
	if !strings.Contains(ad.lastReply(t), "starting with @") {
		t.Fatalf("expected usage hint, got %q", ad.lastReply(t))
	}
	if a.store.Current().ChannelName != "" {
		t.Fatal("invalid channel must not be saved")
	}

	if err := a.cmdSetChannel(ctx, request(ad, "/setchannel @mychannel")); err != nil {
		t.Fatalf("cmdSetChannel: %v", err)
	}
	if got := a.store.Current().ChannelName; got != "@mychannel" {
		t.Fatalf("channel = %q", got)
	}
	if ad.lastReply(t) != "Channel set to @mychannel" {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}
}

func TestCmdSetIntervalUpdatesStoreAndSchedule(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	last := time.Now()
	noop := func(ctx context.Context) error { return nil }
	if err := a.sched.Initialize(ctx, 24*time.Hour, &last, noop); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if err := a.cmdSetInterval(ctx, request(ad, "/setinterval 45m")); err != nil {
		t.Fatalf("cmdSetInterval: %v", err)
	}
	if got := a.store.Current().PostInterval.Duration(); got != 45*time.Minute {
		t.Fatalf("interval = %v", got)
	}
	due, armed := a.sched.NextDue()
	if !armed {
		t.Fatal("expected rearmed timer")
	}
	want := last.Add(45 * time.Minute)
	if d := due.Sub(want); d < -time.Second || d > time.Second {
		t.Fatalf("due = %v, want ~%v", due, want)
	}
	if !strings.Contains(ad.lastReply(t), "Posting interval set to 45m") {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}
}

func TestCmdSetIntervalRejectsTooShortAndGarbage(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	if err := a.cmdSetInterval(ctx, request(ad, "/setinterval 5s")); err != nil {
		t.Fatalf("cmdSetInterval: %v", err)
	}
	if !strings.Contains(ad.lastReply(t), "at least") {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}

	if err := a.cmdSetInterval(ctx, request(ad, "/setinterval nonsense")); err != nil {
		t.Fatalf("cmdSetInterval: %v", err)
	}
	if got := a.store.Current().PostInterval.Duration(); got != config.DefaultInterval {
		t.Fatalf("interval changed to %v after rejected inputs", got)
	}
}

func TestCmdSetPicture(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	req := request(ad, "/setpicture")
	if err := a.cmdSetPicture(ctx, req); err != nil {
		t.Fatalf("cmdSetPicture: %v", err)
	}
	if !strings.Contains(ad.lastReply(t), "reply to a photo") {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}

	req = request(ad, "/setpicture")
	req.Msg.ReplyPhotoID = "file123"
	if err := a.cmdSetPicture(ctx, req); err != nil {
		t.Fatalf("cmdSetPicture: %v", err)
	}
	got := a.store.Current().PicturePath
	if got == "" {
		t.Fatal("picture path not saved")
	}
	if _, err := os.Stat(got); err != nil {
		t.Fatalf("downloaded picture missing: %v", err)
	}
	if !strings.HasPrefix(got, a.opts.PicturesDir) {
		t.Fatalf("picture %q outside %q", got, a.opts.PicturesDir)
	}
}

func TestCmdPostManual(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	// unconfigured: the validation error is reported, nothing sent
	if err := a.cmdPost(ctx, request(ad, "/post")); err != nil {
		t.Fatalf("cmdPost: %v", err)
	}
	if !strings.Contains(ad.lastReply(t), "Error posting picture") {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}
	if len(ad.photos) != 0 {
		t.Fatal("nothing should have been posted")
	}

	picture := filepath.Join(t.TempDir(), "p.jpg")
	if err := os.WriteFile(picture, []byte("jpeg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := a.store.Update(func(c config.Config) config.Config {
		c.ChannelName = "@chan"
		c.PicturePath = picture
		return c
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if err := a.cmdPost(ctx, request(ad, "/post")); err != nil {
		t.Fatalf("cmdPost: %v", err)
	}
	if ad.lastReply(t) != "Picture posted successfully!" {
		t.Fatalf("reply = %q", ad.lastReply(t))
	}
	if len(ad.photos) != 1 || ad.photos[0] != "@chan" {
		t.Fatalf("photos = %v", ad.photos)
	}
	if a.store.Current().LastPostTime == nil {
		t.Fatal("manual post must advance last_post_time")
	}
}

func TestCmdStatus(t *testing.T) {
	a, ad := newTestApp(t)
	ctx := context.Background()

	if err := a.cmdStatus(ctx, request(ad, "/status")); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	out := ad.lastReply(t)
	if !strings.Contains(out, "(not set)") || !strings.Contains(out, "No posts have been made yet") {
		t.Fatalf("status = %q", out)
	}

	now := time.Now()
	if _, err := a.store.Update(func(c config.Config) config.Config {
		c.ChannelName = "@chan"
		c.PicturePath = "p.jpg"
		c.LastPostTime = config.NewUnixTime(now)
		return c
	}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := a.cmdStatus(ctx, request(ad, "/status")); err != nil {
		t.Fatalf("cmdStatus: %v", err)
	}
	out = ad.lastReply(t)
	for _, want := range []string{"@chan", "p.jpg", "Last post:", "Next post:", "Time until next post:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status missing %q:\n%s", want, out)
		}
	}
}
