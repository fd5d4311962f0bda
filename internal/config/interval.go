package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// intervalRe matches the d/h/m/s composition, e.g. "1d12h30m45s".
// Every component is optional but at least one must be present.
var intervalRe = regexp.MustCompile(`^(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?$`)

// ParseInterval parses a human interval string like "1d12h30m45s".
// Components must appear in d, h, m, s order. Strings the composition
// grammar can't express (e.g. "1.5h", "90s500ms") fall back to Go's
// duration syntax.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}

	if m := intervalRe.FindStringSubmatch(s); m != nil && anyGroup(m) {
		days := atoi(m[1])
		hours := atoi(m[2])
		mins := atoi(m[3])
		secs := atoi(m[4])
		d := time.Duration(days)*24*time.Hour +
			time.Duration(hours)*time.Hour +
			time.Duration(mins)*time.Minute +
			time.Duration(secs)*time.Second
		return d, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (want e.g. 1d6h30m)", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("interval must be positive, got %q", raw)
	}
	return d, nil
}

// FormatInterval renders a duration as the compact d/h/m/s composition,
// omitting zero components. Sub-second remainders are dropped.
func FormatInterval(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	total %= 86400
	hours := total / 3600
	total %= 3600
	mins := total / 60
	secs := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
	}
	if mins > 0 {
		fmt.Fprintf(&b, "%dm", mins)
	}
	if secs > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%ds", secs)
	}
	return b.String()
}

func anyGroup(m []string) bool {
	for _, g := range m[1:] {
		if g != "" {
			return true
		}
	}
	return false
}

func atoi(s string) int64 {
	if s == "" {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
