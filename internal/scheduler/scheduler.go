package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"picbot/internal/config"
	"picbot/pkg/logx"
)

type State int

const (
	StateIdle State = iota
	StateArmed
	StateFiring
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateFiring:
		return "firing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Callback runs one post attempt. A nil return means the post succeeded
// and NotifyPosted has been (or is about to be) called; a non-nil return
// arms the retry ladder.
type Callback func(ctx context.Context) error

// Config tunes the retry ladder for failed scheduled posts.
type Config struct {
	RetryBase     time.Duration // first retry delay; doubles per attempt
	RetryMaxDelay time.Duration // ladder cap
	RetryMax      int           // attempts before giving up until next interval
}

func (c Config) withDefaults() Config {
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 5 * time.Minute
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 5
	}
	return c
}

// Scheduler owns the one outstanding "fire at time T" commitment.
//
// All transitions are serialized under one mutex: read anchor, decide next
// due time, arm timer. The generation counter invalidates timers that were
// superseded by Cancel or a rearm, so two timers can never be live at once.
type Scheduler struct {
	cfg Config
	log logx.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	timer    *time.Timer
	interval time.Duration
	anchor   time.Time // last successful post; zero if none yet
	nextDue  time.Time
	retries  int
	onDue    Callback
	ctx      context.Context
}

func New(cfg Config, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg.withDefaults(), log: log}
}

// Initialize computes the first due time from the persisted anchor and
// arms the timer. A due time already in the past fires immediately, so a
// long-stopped process posts once promptly on restart instead of silently
// skipping (catch-up).
func (s *Scheduler) Initialize(ctx context.Context, interval time.Duration, lastPost *time.Time, onDue Callback) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", interval)
	}
	if onDue == nil {
		return errors.New("scheduler: onDue callback is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	s.interval = interval
	s.onDue = onDue
	s.retries = 0
	if lastPost != nil {
		s.anchor = *lastPost
	} else {
		s.anchor = time.Time{}
	}

	due := time.Now()
	if !s.anchor.IsZero() {
		due = s.anchor.Add(interval)
	}
	s.armLocked(due)
	s.log.Info("schedule initialized",
		logx.Duration("interval", interval),
		logx.Time("next_due", s.nextDue),
		logx.Bool("catch_up", !due.After(time.Now())))
	return nil
}

// Reschedule applies a new interval, keeping the same anchor. While a fire
// is in flight the new value is only recorded; the outcome path
// (NotifyPosted or the retry handler) picks it up, so the newest
// reschedule always wins and the in-flight attempt is never disturbed.
func (s *Scheduler) Reschedule(interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: interval must be positive, got %v", interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.interval = interval
	if s.state == StateFiring || s.onDue == nil {
		return nil
	}

	due := time.Now()
	if !s.anchor.IsZero() {
		due = s.anchor.Add(interval)
	}
	s.armLocked(due)
	s.log.Info("rescheduled", logx.Duration("interval", interval), logx.Time("next_due", s.nextDue))
	return nil
}

// NotifyPosted advances the schedule after a successful post. This is the
// only path that moves the anchor. Manual posts call it too, so the next
// scheduled fire is pushed out rather than duplicating the post. Calling
// it twice with the same time supersedes the armed timer, never adds one.
func (s *Scheduler) NotifyPosted(postTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onDue == nil {
		return
	}
	s.anchor = postTime
	s.retries = 0
	s.armLocked(postTime.Add(s.interval))
	s.log.Debug("schedule advanced", logx.Time("next_due", s.nextDue))
}

// Cancel stops the outstanding timer. Idempotent; safe with no timer armed.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
	s.nextDue = time.Time{}
}

// NextDue reports the currently armed due time.
func (s *Scheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateArmed {
		return time.Time{}, false
	}
	return s.nextDue, true
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// armLocked replaces any outstanding timer with one firing at due
// (immediately if due has passed). Callers hold s.mu.
func (s *Scheduler) armLocked(due time.Time) {
	s.gen++
	g := s.gen
	if s.timer != nil {
		s.timer.Stop()
	}
	delay := time.Until(due)
	if delay < 0 {
		delay = 0
	}
	s.nextDue = due
	s.state = StateArmed
	s.timer = time.AfterFunc(delay, func() { s.fire(g) })
}

func (s *Scheduler) fire(g uint64) {
	s.mu.Lock()
	if g != s.gen || s.state != StateArmed {
		// superseded by a rearm or cancel
		s.mu.Unlock()
		return
	}
	s.state = StateFiring
	s.timer = nil
	onDue := s.onDue
	ctx := s.ctx
	s.mu.Unlock()

	err := onDue(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFiring {
		// NotifyPosted (or Cancel) already decided the next cycle.
		return
	}
	if err == nil {
		// Success without NotifyPosted is a contract violation by the
		// callback; arm a full interval from now instead of refiring.
		s.log.Warn("post callback returned without advancing the schedule")
		s.armLocked(time.Now().Add(s.interval))
		return
	}
	s.failLocked(err)
}

// failLocked arms the retry ladder, or gives up for this cycle once the
// error is non-retryable or the attempts are exhausted.
func (s *Scheduler) failLocked(err error) {
	s.retries++

	var verr *config.ValidationError
	retryable := !errors.As(err, &verr)

	if retryable && s.retries <= s.cfg.RetryMax {
		delay := s.cfg.RetryBase << (s.retries - 1)
		if delay > s.cfg.RetryMaxDelay {
			delay = s.cfg.RetryMaxDelay
		}
		s.log.Warn("scheduled post failed, will retry",
			logx.Err(err),
			logx.Int("attempt", s.retries),
			logx.Int("max_attempts", s.cfg.RetryMax),
			logx.Duration("retry_in", delay))
		s.armLocked(time.Now().Add(delay))
		return
	}

	// Error level so the admin-DM log sink surfaces it.
	if retryable {
		s.log.Error("scheduled post failed, retries exhausted; waiting for next interval",
			logx.Err(err), logx.Int("attempts", s.retries))
	} else {
		s.log.Error("scheduled post impossible until reconfigured; waiting for next interval",
			logx.Err(err))
	}
	s.retries = 0

	// Fall back to the regular interval anchored at the last actual post.
	// If that boundary has already passed (failures outlasted the
	// interval), push one full interval out from now instead of refiring.
	due := time.Now().Add(s.interval)
	if !s.anchor.IsZero() {
		if d := s.anchor.Add(s.interval); d.After(time.Now()) {
			due = d
		}
	}
	s.armLocked(due)
}
