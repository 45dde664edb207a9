package alerts

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Clock is a wall-clock time of day at minute precision.
type Clock int

// ParseClock parses "HH:mm" in the range 00:00-23:59.
func ParseClock(s string) (Clock, error) {
	if !clockPattern.MatchString(s) {
		return 0, fmt.Errorf("invalid time %q, expected HH:mm", s)
	}
	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	return Clock(h*60 + m), nil
}

// ClockOf returns the wall-clock time of t in its own location.
func ClockOf(t time.Time) Clock {
	return Clock(t.Hour()*60 + t.Minute())
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// Window is a daily time-of-day interval [Start, End). When Start is after
// End the window wraps midnight. Start equal to End is empty.
type Window struct {
	Start Clock
	End   Clock
}

// ParseWindow parses both bounds of a window.
func ParseWindow(start, end string) (Window, error) {
	s, err := ParseClock(start)
	if err != nil {
		return Window{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return Window{}, err
	}
	return Window{Start: s, End: e}, nil
}

// Wraps reports whether the window crosses midnight.
func (w Window) Wraps() bool {
	return w.Start > w.End
}

// ContainsClock reports whether c falls inside the window.
func (w Window) ContainsClock(c Clock) bool {
	if w.Wraps() {
		return c >= w.Start || c < w.End
	}
	return w.Start <= c && c < w.End
}

// Contains reports whether t's wall-clock time falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return w.ContainsClock(ClockOf(t))
}

func (w Window) String() string {
	return w.Start.String() + "-" + w.End.String()
}
