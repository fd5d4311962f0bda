package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Config is the single persisted configuration record. There is exactly one
// instance per process; it is owned by Store and mutated only through
// Store.Update.
type Config struct {
	BotToken string `json:"bot_token"`
	AdminID  int64  `json:"admin_id"`

	ChannelName string `json:"channel_name"`
	PicturePath string `json:"picture_path"`

	PostInterval Interval `json:"post_interval"`

	// LastPostTime is nil until the first successful post.
	LastPostTime *UnixTime `json:"last_post_time"`
}

// DefaultInterval is used when a fresh config is synthesized on first run.
const DefaultInterval = 24 * time.Hour

// MinInterval is the smallest accepted posting interval.
const MinInterval = 10 * time.Second

// Defaults returns the record synthesized on first run: channel and picture
// deliberately empty (set later via commands), interval 24h, no post yet.
func Defaults() Config {
	return Config{PostInterval: Interval(DefaultInterval)}
}

// NextPostTime computes when the next post is due: lastPostTime + interval,
// or zero if no post has happened yet.
func (c Config) NextPostTime() time.Time {
	if c.LastPostTime == nil {
		return time.Time{}
	}
	return c.LastPostTime.Time().Add(c.PostInterval.Duration())
}

// Interval is a posting interval serialized as a compact human string
// ("1d12h30m45s"). Decoding also accepts Go duration strings and bare
// numbers (seconds) for hand-edited configs.
type Interval time.Duration

func (i Interval) Duration() time.Duration { return time.Duration(i) }

func (i Interval) String() string { return FormatInterval(time.Duration(i)) }

func (i Interval) MarshalJSON() ([]byte, error) {
	return json.Marshal(FormatInterval(time.Duration(i)))
}

func (i *Interval) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] != '"' {
		secs, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("post_interval: invalid number %s", b)
		}
		*i = Interval(time.Duration(secs * float64(time.Second)))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	d, err := ParseInterval(s)
	if err != nil {
		return err
	}
	*i = Interval(d)
	return nil
}

// UnixTime is a timestamp persisted as unix seconds.
type UnixTime int64

func NewUnixTime(t time.Time) *UnixTime {
	u := UnixTime(t.Unix())
	return &u
}

func (u UnixTime) Time() time.Time { return time.Unix(int64(u), 0) }

func (u UnixTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(u))
}

func (u *UnixTime) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("last_post_time: %w", err)
		}
		*u = UnixTime(t.Unix())
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("last_post_time: %w", err)
	}
	*u = UnixTime(n)
	return nil
}
