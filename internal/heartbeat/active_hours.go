package heartbeat

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/clawfleet/internal/config"
)

// InWindow reports whether now falls inside the active-hours window,
// evaluated in the window's timezone on a 24-hour clock. Start is inclusive,
// end is inclusive. Windows with start after end would span midnight; that
// case is not supported and gates nothing.
func InWindow(ah *config.ActiveHours, now time.Time) bool {
	if ah == nil {
		return true
	}
	start, err1 := clockMinutes(ah.Start)
	end, err2 := clockMinutes(ah.End)
	if err1 != nil || err2 != nil || start > end {
		return true
	}

	loc := time.UTC
	if ah.Timezone != "" {
		if l, err := time.LoadLocation(ah.Timezone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()
	return cur >= start && cur <= end
}

// clockMinutes parses "HH:MM" into minutes since midnight.
func clockMinutes(s string) (int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("not HH:MM: %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	min, err := strconv.Atoi(m)
	if err != nil || min < 0 || min > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + min, nil
}
