package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"picbot/internal/config"
	"picbot/internal/poster"
	"picbot/internal/router"
)

func (a *App) commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "show the command list",
			Usage:       "/start",
			Handle:      a.cmdStart,
		},
		{
			Name:        "status",
			Description: "show current bot settings",
			Usage:       "/status",
			Handle:      a.cmdStatus,
		},
		{
			Name:        "setchannel",
			Description: "set the target channel",
			Usage:       "/setchannel @channel_name",
			Handle:      a.cmdSetChannel,
		},
		{
			Name:        "setinterval",
			Description: "set the posting interval",
			Usage:       "/setinterval 1d6h30m",
			Handle:      a.cmdSetInterval,
		},
		{
			Name:        "setpicture",
			Description: "reply to a photo to set it as the picture to post",
			Usage:       "/setpicture (as a reply to a photo)",
			Handle:      a.cmdSetPicture,
		},
		{
			Name:        "post",
			Description: "post the picture now",
			Usage:       "/post",
			Timeout:     2 * time.Minute,
			Handle:      a.cmdPost,
		},
	}
}

func (a *App) cmdStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx,
		"Welcome to the Same Picture Posting Bot!\n\n"+
			"Commands:\n"+
			"/status - Show current bot settings\n"+
			"/setchannel @channel_name - Set the target channel\n"+
			"/setinterval 1d12h30m - Set posting interval\n"+
			"/post - Post the picture now\n"+
			"/setpicture - Reply to a photo to set it as the picture to post")
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	cfg := a.store.Current()

	channel := cfg.ChannelName
	if channel == "" {
		channel = "(not set)"
	}
	picture := cfg.PicturePath
	if picture == "" {
		picture = "(not set)"
	}

	var b strings.Builder
	b.WriteString("📊 Current Bot Settings 📊\n\n")
	fmt.Fprintf(&b, "🔹 Channel: %s\n", channel)
	fmt.Fprintf(&b, "🔹 Picture: %s\n", picture)
	fmt.Fprintf(&b, "🔹 Posting interval: %s\n", cfg.PostInterval)

	if cfg.LastPostTime != nil {
		last := cfg.LastPostTime.Time()
		fmt.Fprintf(&b, "🔹 Last post: %s\n", last.Format("2006-01-02 15:04:05"))

		// Prefer the live timer over the computed value: it also reflects
		// pending retries after failed sends.
		next, armed := a.sched.NextDue()
		if !armed {
			next = cfg.NextPostTime()
		}
		fmt.Fprintf(&b, "🔹 Next post: %s\n", next.Format("2006-01-02 15:04:05"))
		if left := time.Until(next); left > 0 {
			fmt.Fprintf(&b, "🔹 Time until next post: %s\n", config.FormatInterval(left))
		}
	} else {
		b.WriteString("🔹 No posts have been made yet.\n")
	}
	return req.Reply(ctx, b.String())
}

func (a *App) cmdSetChannel(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 || !strings.HasPrefix(req.Args[0], "@") {
		return req.Reply(ctx,
			"Please provide a valid channel name starting with @.\n"+
				"Example: /setchannel @your_channel_name")
	}
	channel := req.Args[0]

	if _, err := a.store.Update(func(c config.Config) config.Config {
		c.ChannelName = channel
		return c
	}); err != nil {
		return req.Reply(ctx, "Could not save channel: "+err.Error())
	}
	return req.Reply(ctx, "Channel set to "+channel)
}

func (a *App) cmdSetInterval(ctx context.Context, req *router.Request) error {
	if len(req.Args) == 0 {
		return req.Reply(ctx,
			"Please provide a time interval.\n"+
				"Examples:\n"+
				"/setinterval 1d - Once per day\n"+
				"/setinterval 12h - Every 12 hours\n"+
				"/setinterval 30m - Every 30 minutes\n"+
				"/setinterval 1d6h30m - 1 day, 6 hours and 30 minutes")
	}

	d, err := config.ParseInterval(req.Args[0])
	if err != nil {
		return req.Reply(ctx, err.Error())
	}
	if d < config.MinInterval {
		return req.Reply(ctx, fmt.Sprintf("Interval must be at least %s.", config.FormatInterval(config.MinInterval)))
	}

	if _, err := a.store.Update(func(c config.Config) config.Config {
		c.PostInterval = config.Interval(d)
		return c
	}); err != nil {
		return req.Reply(ctx, "Could not save interval: "+err.Error())
	}
	if err := a.sched.Reschedule(d); err != nil {
		return req.Reply(ctx, "Interval saved but rescheduling failed: "+err.Error())
	}
	return req.Reply(ctx, fmt.Sprintf("Posting interval set to %s (%s)", req.Args[0], config.FormatInterval(d)))
}

func (a *App) cmdSetPicture(ctx context.Context, req *router.Request) error {
	if req.Msg.ReplyPhotoID == "" {
		return req.Reply(ctx, "Please reply to a photo with /setpicture to set it as the picture to post.")
	}

	if err := os.MkdirAll(a.opts.PicturesDir, 0o755); err != nil {
		return req.Reply(ctx, "Could not create pictures directory: "+err.Error())
	}
	dest := filepath.Join(a.opts.PicturesDir, fmt.Sprintf("picture_%d.jpg", time.Now().Unix()))
	if err := req.Adapter.DownloadPhoto(ctx, req.Msg.ReplyPhotoID, dest); err != nil {
		return req.Reply(ctx, "Could not download photo: "+err.Error())
	}

	if _, err := a.store.Update(func(c config.Config) config.Config {
		c.PicturePath = dest
		return c
	}); err != nil {
		return req.Reply(ctx, "Could not save picture: "+err.Error())
	}
	return req.Reply(ctx, "Picture set to "+dest)
}

func (a *App) cmdPost(ctx context.Context, req *router.Request) error {
	if err := a.post.PostNow(ctx, poster.TriggerManual); err != nil {
		return req.Reply(ctx, "Error posting picture: "+err.Error())
	}
	return req.Reply(ctx, "Picture posted successfully!")
}
