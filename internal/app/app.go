// Package app wires the bot together: config store, transport adapter,
// scheduler, post coordinator, command router and logging.
package app

import (
	"context"
	"fmt"
	"time"

	"picbot/internal/config"
	"picbot/internal/poster"
	"picbot/internal/router"
	"picbot/internal/scheduler"
	kit "picbot/internal/transport"
	"picbot/internal/transport/telegram"
	"picbot/pkg/logx"
)

type Options struct {
	ConfigPath  string
	PicturesDir string // where /setpicture stores downloaded photos
	LogLevel    string
	LogFile     string
}

type App struct {
	opts Options

	store   *config.Store
	logs    *logx.Service
	log     logx.Logger
	adapter kit.Adapter
	sched   *scheduler.Scheduler
	post    *poster.Coordinator
	router  *router.Router

	updates chan kit.Update
	sub     chan config.Config
}

func New(opts Options) (*App, error) {
	if opts.PicturesDir == "" {
		opts.PicturesDir = "./pictures"
	}

	store := config.NewStore(opts.ConfigPath)
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(opts.LogLevel).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.BotToken}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w (set bot_token in %s)", err, opts.ConfigPath)
	}

	// Errors logged anywhere in the process reach the admin DM through the
	// telegram log sink; that is the reporting path for scheduled-post
	// failures.
	logSvc, log := logx.New(logx.Config{
		Level:   opts.LogLevel,
		Console: true,
		File: logx.FileConfig{
			Enabled: opts.LogFile != "",
			Path:    opts.LogFile,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    true,
			MinLevel:   "ERROR",
			RatePerSec: 1,
		},
	}, ad)
	logSvc.SetTelegramTarget(cfg.AdminID)
	log = log.With(logx.String("comp", "app"))
	store.SetLogger(logSvc.Logger().With(logx.String("comp", "config")))

	sched := scheduler.New(scheduler.Config{}, logSvc.Logger().With(logx.String("comp", "scheduler")))
	post := poster.New(store, ad, sched, logSvc.Logger().With(logx.String("comp", "poster")))

	a := &App{
		opts:    opts,
		store:   store,
		logs:    logSvc,
		log:     log,
		adapter: ad,
		sched:   sched,
		post:    post,
		updates: make(chan kit.Update, 64),
	}

	rt := router.New(logSvc.Logger().With(logx.String("comp", "router")), ad, a.isAuthorized)
	rt.Register(a.commands()...)
	a.router = rt
	return a, nil
}

// isAuthorized implements the single-admin model: only the configured
// admin id may drive the bot. Reads the live config so an external edit of
// admin_id takes effect without restart.
func (a *App) isAuthorized(userID int64) bool {
	admin := a.store.Current().AdminID
	return admin != 0 && userID == admin
}

func (a *App) Start(ctx context.Context) error {
	if err := a.adapter.Start(ctx, a.updates); err != nil {
		return err
	}
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		if err := mu.UpdateMenuCommands(ctx, a.router.Commands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	}

	go a.router.Run(ctx, a.updates)
	go func() { _ = a.store.Watch(ctx) }()

	a.sub = a.store.Subscribe(4)
	go a.followConfig(ctx)

	cfg := a.store.Current()
	var last *time.Time
	if cfg.LastPostTime != nil {
		t := cfg.LastPostTime.Time()
		last = &t
	}
	if err := a.sched.Initialize(ctx, cfg.PostInterval.Duration(), last, a.onDue); err != nil {
		return err
	}

	a.log.Info("started",
		logx.String("config", a.opts.ConfigPath),
		logx.String("channel", cfg.ChannelName),
		logx.String("interval", cfg.PostInterval.String()))
	return nil
}

func (a *App) onDue(ctx context.Context) error {
	return a.post.PostNow(ctx, poster.TriggerScheduled)
}

// followConfig applies committed config changes (admin commands and
// external file edits alike) to the live schedule and log target.
func (a *App) followConfig(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.sub:
			if !ok {
				return
			}
			a.logs.SetTelegramTarget(cfg.AdminID)
			if err := a.sched.Reschedule(cfg.PostInterval.Duration()); err != nil {
				a.log.Warn("reschedule after config change failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.sched.Cancel()
	err := a.adapter.Stop(ctx)
	if a.sub != nil {
		a.store.Unsubscribe(a.sub)
		a.sub = nil
	}
	_ = a.logs.Close()
	return err
}
