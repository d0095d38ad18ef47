package heartbeat

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultInterval is used for unrecognized interval strings.
const DefaultInterval = 30 * time.Minute

var presets = map[string]time.Duration{
	"5m":    5 * time.Minute,
	"15m":   15 * time.Minute,
	"30m":   30 * time.Minute,
	"1h":    time.Hour,
	"4h":    4 * time.Hour,
	"daily": 24 * time.Hour,
}

var freeformRe = regexp.MustCompile(`^(\d+)([mh])$`)

// ParseInterval maps an interval spec to a duration. Named presets and
// free-form Nm/Nh are accepted; anything else falls back to 30 minutes.
func ParseInterval(spec string) time.Duration {
	if d, ok := presets[spec]; ok {
		return d
	}
	if m := freeformRe.FindStringSubmatch(spec); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			if m[2] == "h" {
				return time.Duration(n) * time.Hour
			}
			return time.Duration(n) * time.Minute
		}
	}
	return DefaultInterval
}
