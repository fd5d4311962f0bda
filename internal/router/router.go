// Package router parses incoming direct messages into commands and runs
// the matching handler through a middleware chain. Handlers execute on a
// small worker pool so one slow command (a post doing network I/O) never
// blocks the next one (a /status).
package router

import (
	"context"
	"strings"
	"time"

	kit "picbot/internal/transport"
	"picbot/pkg/logx"
)

type Command struct {
	Name        string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request carries one parsed command invocation.
type Request struct {
	Msg     kit.Message
	Command string
	Args    []string

	Adapter kit.Adapter
	Log     logx.Logger
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	return r.Adapter.SendText(ctx, r.Msg.ChatID, text)
}

type Router struct {
	log          logx.Logger
	adapter      kit.Adapter
	isAuthorized func(userID int64) bool

	commands map[string]Command
	order    []string

	workers        int
	defaultTimeout time.Duration
}

func New(log logx.Logger, adapter kit.Adapter, isAuthorized func(int64) bool) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:            log,
		adapter:        adapter,
		isAuthorized:   isAuthorized,
		commands:       map[string]Command{},
		workers:        4,
		defaultTimeout: 2 * time.Minute,
	}
}

// Register adds commands. Must be called before Run.
func (r *Router) Register(cmds ...Command) {
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		if _, dup := r.commands[c.Name]; !dup {
			r.order = append(r.order, c.Name)
		}
		r.commands[c.Name] = c
	}
}

// Commands returns the registered commands in registration order, for the
// platform command menu.
func (r *Router) Commands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.order))
	for _, name := range r.order {
		c := r.commands[name]
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is cancelled. It blocks.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	jobs := make(chan func(), 64)
	for i := 0; i < r.workers; i++ {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-jobs:
					job()
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			req, cmd, matched := r.match(*up.Message)
			if !matched {
				continue
			}
			job := func() { r.dispatch(ctx, cmd, req) }
			select {
			case jobs <- job:
			default:
				r.log.Warn("command queue full, dropping", logx.String("cmd", req.Command))
			}
		}
	}
}

func (r *Router) match(msg kit.Message) (*Request, Command, bool) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil, Command{}, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	// strip the @botname suffix Telegram appends in some clients
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)

	req := &Request{
		Msg:     msg,
		Command: name,
		Args:    fields[1:],
		Adapter: r.adapter,
		Log:     r.log,
	}
	cmd, ok := r.commands[name]
	if !ok {
		// Unknown command: point the admin at /start, stay silent for
		// everyone else.
		if r.isAuthorized(msg.FromID) {
			cmd = Command{Name: name, Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, "Unknown command. See /start for the command list.")
			}}
			return req, cmd, true
		}
		return nil, Command{}, false
	}
	return req, cmd, true
}

func (r *Router) dispatch(ctx context.Context, cmd Command, req *Request) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	h := Chain(cmd.Handle,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWAuth(r.isAuthorized),
		MWTimeout(timeout),
	)
	_ = h(ctx, req)
}
