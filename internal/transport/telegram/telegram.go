// Package telegram implements the transport adapter on top of telebot's
// long polling.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "picbot/internal/transport"
	"picbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	stopped chan struct{}

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop; reported once on stop instead of per update.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		msg := &kit.Message{
			ID:           m.ID,
			ChatID:       m.Chat.ID,
			FromID:       m.Sender.ID,
			FromUsername: m.Sender.Username,
			Text:         m.Text,
		}
		if m.ReplyTo != nil && m.ReplyTo.Photo != nil {
			msg.ReplyPhotoID = m.ReplyTo.Photo.FileID
		}
		a.sendUpdate(kit.Update{Message: msg})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.stopped = make(chan struct{})
	stopped := a.stopped
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	go func() {
		defer close(stopped)
		a.log.Info("polling started")
		a.bot.Start() // blocks until Stop()
		a.log.Info("polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	stopped := a.stopped
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
		a.log.Warn("incoming updates dropped (consumer slow)", logx.Any("count", n))
	}

	// telebot Stop is expected to be fast; don't let a stuck long-poll
	// hold up shutdown.
	go a.bot.Stop()
	select {
	case <-stopped:
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(tele.ChatID(chatID), text)
	return err
}

// channelRecipient lets us address a public channel by its @username.
type channelRecipient string

func (c channelRecipient) Recipient() string { return string(c) }

func (a *Adapter) SendPhoto(ctx context.Context, channel, picturePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := &tele.Photo{File: tele.FromDisk(picturePath)}
	_, err := a.bot.Send(channelRecipient(channel), photo)
	return err
}

func (a *Adapter) DownloadPhoto(ctx context.Context, fileID, destPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Download(&tele.File{FileID: fileID}, destPath)
}

// UpdateMenuCommands publishes the command list for Telegram's "/" menu.
// Best-effort; the bot works without it.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		d := c.Description
		if d == "" {
			d = c.Command
		}
		out = append(out, tele.Command{Text: c.Command, Description: d})
	}
	return a.bot.SetCommands(out)
}
