package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"

	"picbot/pkg/logx"
)

// Store owns the persisted configuration record and provides atomic
// read/update. All mutations are serialized: the durable write happens
// under the same critical section as the in-memory commit, so readers
// never observe a state that differs from disk.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg *Config

	// lastHash tracks the last committed content so the file watcher can
	// skip reload events caused by our own writes.
	lastHash uint64

	// subsMu guards the subscriber list and ensures we never send on a
	// channel that is concurrently being closed in Unsubscribe.
	subsMu sync.Mutex
	subs   []chan Config

	log logx.Logger
}

func NewStore(path string) *Store {
	return &Store{path: path, log: logx.Nop()}
}

func (s *Store) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		s.log = log
	}
}

func (s *Store) Path() string { return s.path }

// Load reads the persisted record, or synthesizes and persists defaults on
// first run. It must be called once before Current/Update. A record that
// exists but fails validation is rejected, same as the hot-reload path.
func (s *Store) Load() (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.readFile()
	switch {
	case errors.Is(err, ErrNotFound):
		def := Defaults()
		if werr := s.writeFileLocked(&def); werr != nil {
			return Config{}, werr
		}
		s.log.Info("no config found, wrote defaults", logx.String("path", s.path))
		cfg = &def
	case err != nil:
		return Config{}, err
	default:
		if verr := validateTransition(Config{}, *cfg); verr != nil {
			return Config{}, verr
		}
	}
	s.commitLocked(cfg)
	return *cfg, nil
}

// Current returns the latest committed snapshot. It never blocks on I/O.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return Config{}
	}
	return *s.cfg
}

// Update applies mut to the current record, validates the transition,
// writes the full record durably, and only then commits it in memory.
// On any failure the prior record is returned together with the error and
// nothing has changed, in memory or on disk.
func (s *Store) Update(mut func(Config) Config) (Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var old Config
	if s.cfg != nil {
		old = *s.cfg
	}
	next := mut(old)

	if err := validateTransition(old, next); err != nil {
		return old, err
	}
	if err := s.writeFileLocked(&next); err != nil {
		return old, err
	}
	s.commitLocked(&next)

	// Published under s.mu so subscribers see snapshots in commit order.
	// Sends never block (see publish), so holding the lock here is safe.
	s.publish(next)
	return next, nil
}

// Subscribe returns a channel that receives committed snapshots after each
// change (both Update calls and external file edits picked up by Watch).
func (s *Store) Subscribe(buffer int) chan Config {
	ch := make(chan Config, buffer)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan Config) {
	if ch == nil {
		return
	}
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for i, c := range s.subs {
		if c == ch {
			last := len(s.subs) - 1
			s.subs[i] = s.subs[last]
			s.subs[last] = nil
			s.subs = s.subs[:last]
			close(ch)
			return
		}
	}
}

func (s *Store) publish(cfg Config) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		if ch == nil {
			continue
		}
		// If the subscriber is slow, drop the oldest pending snapshot and
		// push the newest; only the latest state matters.
		select {
		case ch <- cfg:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}

func (s *Store) commitLocked(cfg *Config) {
	s.cfg = cfg
	if b, err := json.Marshal(cfg); err == nil {
		s.lastHash = hashBytes(b)
	} else {
		s.lastHash = 0
	}
}

func (s *Store) readFile() (*Config, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", s.path, ErrNotFound)
		}
		return nil, err
	}
	return decode(s.path, b)
}

func decode(path string, raw []byte) (*Config, error) {
	jb, err := coerceToJSONBytes(path, raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, &ValidationError{Field: "config", Reason: "trailing data"}
		}
		return nil, err
	}
	return &cfg, nil
}

// writeFileLocked writes the record to a temp file in the same directory
// and renames it over the target, so a crash mid-write never leaves a
// half-written record. Callers hold s.mu.
func (s *Store) writeFileLocked(cfg *Config) error {
	data, err := encode(s.path, cfg)
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistError{Path: s.path, Err: err}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return &PersistError{Path: s.path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &PersistError{Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &PersistError{Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return &PersistError{Path: s.path, Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return &PersistError{Path: s.path, Err: err}
	}
	return nil
}

// validateTransition guards mutations. The synthesized defaults keep
// channel/picture empty until the admin sets them, so emptiness is only an
// error when a mutation changes the field or tries to unset one that was
// already configured.
func validateTransition(old, next Config) error {
	if next.PostInterval.Duration() < MinInterval {
		return &ValidationError{
			Field:  "post_interval",
			Reason: "must be at least " + FormatInterval(MinInterval),
		}
	}
	if next.ChannelName == "" && old.ChannelName != "" {
		return &ValidationError{Field: "channel_name", Reason: "must not be empty"}
	}
	if next.PicturePath == "" && old.PicturePath != "" {
		return &ValidationError{Field: "picture_path", Reason: "must not be empty"}
	}
	return nil
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
