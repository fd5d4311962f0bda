package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"picbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWAuth rejects everyone but the admin. Authorization itself is an
// injected capability; the router never looks at config.
func MWAuth(isAuthorized func(userID int64) bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if !isAuthorized(req.Msg.FromID) {
				return req.Reply(ctx, "You are not authorized to use this bot.")
			}
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.Int64("from_id", req.Msg.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return err
		}
	}
}
