package attendance

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the ISO calendar-day format used for Record.Date.
const DateLayout = "2006-01-02"

// DayClock decides which calendar day an instant belongs to. The zone is a
// fixed UTC offset chosen at startup, so day boundaries do not depend on the
// host's local time.
type DayClock struct {
	loc *time.Location
	now func() time.Time
}

// NewDayClock builds a clock for the given UTC offset.
func NewDayClock(offset time.Duration) DayClock {
	return DayClock{loc: time.FixedZone(offsetName(offset), int(offset.Seconds())), now: time.Now}
}

// WithNow returns a copy of the clock reading the current time from now.
func (c DayClock) WithNow(now func() time.Time) DayClock {
	c.now = now
	return c
}

// Location returns the clock's zone.
func (c DayClock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Now returns the current instant in the clock's zone.
func (c DayClock) Now() time.Time {
	if c.now == nil {
		return time.Now().In(c.Location())
	}
	return c.now().In(c.Location())
}

// Date returns the calendar day of t in the clock's zone.
func (c DayClock) Date(t time.Time) string {
	return t.In(c.Location()).Format(DateLayout)
}

// Today returns the current calendar day.
func (c DayClock) Today() string {
	return c.Date(c.Now())
}

// ParseDate parses a YYYY-MM-DD day in the clock's zone.
func (c DayClock) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, c.Location())
}

// ParseOffset accepts "+08:00", "-0530", "8", "UTC" and similar.
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "utc") || strings.EqualFold(s, "z") {
		return 0, nil
	}
	s = strings.TrimPrefix(strings.TrimPrefix(strings.ToUpper(s), "UTC"), "GMT")
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(s, "-"):
		sign = -1
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	hh, mm := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		hh, mm = s[:i], s[i+1:]
	} else if len(s) == 4 {
		hh, mm = s[:2], s[2:]
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m >= 60 || h < 0 || h > 14 {
		return 0, fmt.Errorf("invalid utc offset %q", s)
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

func offsetName(offset time.Duration) string {
	if offset == 0 {
		return "UTC"
	}
	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return fmt.Sprintf("UTC%s%02d:%02d", sign, h, m)
}
