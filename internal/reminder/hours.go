package reminder

import "time"

// ActiveHours is the daily delivery window [Start:00, End:00) on the local
// calendar day of Location.
type ActiveHours struct {
	Start    int
	End      int
	Location *time.Location
}

// DefaultActiveHours is 09:00-17:00 local time.
func DefaultActiveHours() ActiveHours {
	return ActiveHours{Start: 9, End: 17, Location: time.Local}
}

// Valid reports whether both hours are in 0..23 and End is after Start.
func (h ActiveHours) Valid() bool {
	return h.Start >= 0 && h.Start <= 23 && h.End >= 0 && h.End <= 23 && h.End > h.Start
}

func (h ActiveHours) loc() *time.Location {
	if h.Location == nil {
		return time.Local
	}
	return h.Location
}

// Contains reports whether t falls inside the window.
func (h ActiveHours) Contains(t time.Time) bool {
	hour := t.In(h.loc()).Hour()
	return hour >= h.Start && hour < h.End
}

// Next returns t when it is inside the window, otherwise the next window
// start: today's when t is before the window, tomorrow's when after it.
// ok is false for an invalid window.
func (h ActiveHours) Next(t time.Time) (time.Time, bool) {
	if !h.Valid() {
		return time.Time{}, false
	}
	if h.Contains(t) {
		return t, true
	}
	lt := t.In(h.loc())
	y, m, d := lt.Date()
	if lt.Hour() < h.Start {
		return time.Date(y, m, d, h.Start, 0, 0, 0, h.loc()), true
	}
	return time.Date(y, m, d+1, h.Start, 0, 0, 0, h.loc()), true
}
