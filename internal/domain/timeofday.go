package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes since local midnight
type TimeOfDay int

// MinutesPerDay is the number of minutes in a civil day
const MinutesPerDay = 24 * 60

// ParseTimeOfDay parses "HH:MM" or "HH:MM:SS" (seconds are ignored)
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time of day %q", s)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil || hours < 0 || hours > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil || minutes < 0 || minutes > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("invalid second in %q", s)
		}
	}

	return TimeOfDay(hours*60 + minutes), nil
}

// TimeOfDayOf extracts the minute-of-day of t in t's own location
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

// String formats the time as "HH:MM"
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// TimeWindow is a [Start, End) range of minutes within a day
type TimeWindow struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// Contains reports start <= t < end without wrapping past midnight.
// A window whose start is not before its end contains nothing.
func (w TimeWindow) Contains(t TimeOfDay) bool {
	return t >= w.Start && t < w.End
}

// ContainsWrapping is like Contains but treats Start > End as an overnight
// window, e.g. 22:00-07:00 contains 23:30 and 06:00.
func (w TimeWindow) ContainsWrapping(t TimeOfDay) bool {
	if w.Start > w.End {
		return t >= w.Start || t < w.End
	}
	return w.Contains(t)
}

// ParseTimeWindow parses both bounds. Either failing yields an error.
func ParseTimeWindow(start, end string) (TimeWindow, error) {
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return TimeWindow{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return TimeWindow{}, err
	}
	return TimeWindow{Start: s, End: e}, nil
}
