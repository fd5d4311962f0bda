package config

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"picbot/pkg/logx"
)

// Watch reloads the record when the file changes on disk (hand edits,
// deploys). Events are debounced to avoid reading partial writes, and
// reloads whose content matches the committed state are skipped, which
// also filters out events caused by Update's own rename.
//
// Watch blocks until ctx is cancelled. If the watcher breaks it is
// recreated with a capped backoff.
func (s *Store) Watch(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	file := filepath.Base(s.path)

	const (
		backoffBase = 250 * time.Millisecond
		backoffMax  = 5 * time.Second
	)
	backoff := backoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(250*time.Millisecond, func() { s.reload() })
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
			if err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			s.log.Warn("config watch init failed", logx.Err(err), logx.String("dir", dir))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, backoffMax)
			continue
		}
		backoff = backoffBase
		s.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) {
					if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
						debounce()
					}
				}
			case werr, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if werr != nil {
					s.log.Warn("config watch error", logx.Err(werr), logx.String("dir", dir))
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		s.log.Warn("config watcher stopped, restarting", logx.Duration("backoff", backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

// reload parses the file and, if the content differs from the committed
// state and passes validation, commits and publishes it.
func (s *Store) reload() {
	cfg, err := s.readFile()
	if err != nil {
		s.log.Warn("config reload failed", logx.String("path", s.path), logx.Err(err))
		return
	}

	b, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	h := hashBytes(b)

	s.mu.Lock()
	if h == s.lastHash {
		s.mu.Unlock()
		return
	}
	var old Config
	if s.cfg != nil {
		old = *s.cfg
	}
	if err := validateTransition(old, *cfg); err != nil {
		s.mu.Unlock()
		s.log.Warn("config reload rejected", logx.String("path", s.path), logx.Err(err))
		return
	}
	s.commitLocked(cfg)
	// Publish before releasing s.mu, same as Update, so a reload can never
	// deliver its snapshot after a later commit's.
	s.publish(*cfg)
	s.mu.Unlock()

	s.log.Info("config reloaded from disk", logx.String("path", s.path))
}
