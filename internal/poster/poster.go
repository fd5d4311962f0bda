// Package poster orchestrates a single post attempt: validate the current
// configuration, hand the picture to the transport, and advance the
// persisted anchor only once the send is confirmed.
package poster

import (
	"context"
	"fmt"
	"os"
	"time"

	"picbot/internal/config"
	"picbot/pkg/logx"
)

type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerScheduled
)

func (t Trigger) String() string {
	if t == TriggerScheduled {
		return "scheduled"
	}
	return "manual"
}

// SendError wraps a transport failure. The last-post anchor is guaranteed
// untouched when this is returned.
type SendError struct {
	Channel string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// Sender is the external transport capability used for the actual post.
type Sender interface {
	SendPhoto(ctx context.Context, channel, picturePath string) error
}

// ScheduleNotifier advances the recurring schedule after a confirmed post.
type ScheduleNotifier interface {
	NotifyPosted(postTime time.Time)
}

type Coordinator struct {
	store  *config.Store
	sender Sender
	sched  ScheduleNotifier
	log    logx.Logger
}

func New(store *config.Store, sender Sender, sched ScheduleNotifier, log logx.Logger) *Coordinator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{store: store, sender: sender, sched: sched, log: log}
}

// PostNow posts the configured picture to the configured channel.
//
// Ordering is deliberate: the send must be confirmed before the anchor is
// advanced, so a crash between the two repeats the post on restart rather
// than silently skipping one. The schedule is advanced even if persisting
// the anchor fails; otherwise a scheduled retry would double-post.
func (p *Coordinator) PostNow(ctx context.Context, trig Trigger) error {
	cfg := p.store.Current()

	if cfg.ChannelName == "" {
		return &config.ValidationError{Field: "channel_name", Reason: "no channel configured, use /setchannel"}
	}
	if cfg.PicturePath == "" {
		return &config.ValidationError{Field: "picture_path", Reason: "no picture configured, use /setpicture"}
	}
	if _, err := os.Stat(cfg.PicturePath); err != nil {
		return &config.ValidationError{
			Field:  "picture_path",
			Reason: fmt.Sprintf("picture not readable: %v", err),
		}
	}

	if err := p.sender.SendPhoto(ctx, cfg.ChannelName, cfg.PicturePath); err != nil {
		p.log.Warn("post failed",
			logx.String("trigger", trig.String()),
			logx.String("channel", cfg.ChannelName),
			logx.Err(err))
		return &SendError{Channel: cfg.ChannelName, Err: err}
	}

	now := time.Now()
	_, uerr := p.store.Update(func(c config.Config) config.Config {
		c.LastPostTime = config.NewUnixTime(now)
		return c
	})
	p.sched.NotifyPosted(now)

	if uerr != nil {
		// The post went out; next restart may repeat it since the anchor
		// was not persisted. Surface the persistence problem.
		p.log.Error("post sent but last_post_time not persisted", logx.Err(uerr))
		return uerr
	}

	p.log.Info("picture posted",
		logx.String("trigger", trig.String()),
		logx.String("channel", cfg.ChannelName),
		logx.String("picture", cfg.PicturePath))
	return nil
}
