// SPDX-License-Identifier: MIT

package schedule

import "time"

// lookahead bounds the Next/PrevActivation scans. Eight days covers a full
// week plus the partial current day.
const lookaheadDays = 8

// IsActive reports whether t falls inside at least one window. A nil or empty
// schedule is always active: absence of a schedule means "no restriction".
// Timezone lookup failures report inactive.
func IsActive(s *Schedule, t time.Time) bool {
	if s.IsEmpty() {
		return true
	}
	loc, err := s.location()
	if err != nil {
		return false
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	for _, w := range s.Windows[local.Weekday()] {
		if minutes >= w.Start && minutes < w.End {
			return true
		}
	}
	return false
}

// NextActivation returns the earliest t' >= t at which the schedule is
// active, or nil when the schedule has no windows. An empty schedule is
// always active, so t itself is returned.
func NextActivation(s *Schedule, t time.Time) *time.Time {
	if s == nil {
		tt := t
		return &tt
	}
	if s.IsEmpty() {
		tt := t
		return &tt
	}
	loc, err := s.location()
	if err != nil {
		return nil
	}
	if IsActive(s, t) {
		tt := t
		return &tt
	}
	local := t.In(loc)
	for offset := 0; offset < lookaheadDays; offset++ {
		day := local.AddDate(0, 0, offset)
		for _, w := range s.Windows[day.Weekday()] {
			start := time.Date(day.Year(), day.Month(), day.Day(), w.Start/60, w.Start%60, 0, 0, loc)
			if !start.Before(t) {
				return &start
			}
		}
	}
	return nil
}

// PrevActivation returns the latest t' <= t at which the schedule is active,
// or nil when the schedule has no windows. For an instant outside all
// windows the final contained instant of the most recent window is returned
// (window ends are exclusive).
func PrevActivation(s *Schedule, t time.Time) *time.Time {
	if s == nil || s.IsEmpty() {
		tt := t
		return &tt
	}
	loc, err := s.location()
	if err != nil {
		return nil
	}
	if IsActive(s, t) {
		tt := t
		return &tt
	}
	local := t.In(loc)
	for offset := 0; offset < lookaheadDays; offset++ {
		day := local.AddDate(0, 0, -offset)
		ws := s.Windows[day.Weekday()]
		for i := len(ws) - 1; i >= 0; i-- {
			w := ws[i]
			end := time.Date(day.Year(), day.Month(), day.Day(), w.End/60, w.End%60, 0, 0, loc)
			last := end.Add(-time.Nanosecond)
			if !last.After(t) {
				return &last
			}
		}
	}
	return nil
}
