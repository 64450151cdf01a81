// SPDX-License-Identifier: MIT

// Package schedule evaluates weekly availability windows for a queue.
// A Schedule is a pure value: a timezone and, per weekday, a list of
// half-open [start, end) wall-clock intervals. Evaluation projects an
// instant into the schedule's zone, so windows follow local time across
// DST transitions.
package schedule

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Window is one [Start, End) interval, both encoded as minutes since local
// midnight. End is exclusive: a window ending at 17:00 does not contain
// 17:00:00.
type Window struct {
	Start int
	End   int
}

// Schedule holds the weekly windows for a queue, keyed by weekday.
type Schedule struct {
	Timezone string
	Windows  map[time.Weekday][]Window
}

var dayKeys = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

var dayNames = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// jsonSchedule is the persisted shape:
//
//	{"timezone":"Europe/Vienna","windows":{"mon":[["09:00","17:00"]]}}
type jsonSchedule struct {
	Timezone string                `json:"timezone"`
	Windows  map[string][][]string `json:"windows"`
}

// ParseTime parses "HH:MM" into minutes since midnight.
func ParseTime(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0]+":"+parts[1], "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return h*60 + m, nil
}

func formatTime(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Parse decodes the stored JSON representation of a schedule. Windows are
// validated (start < end) and sorted by start within each day.
func Parse(raw []byte) (*Schedule, error) {
	var js jsonSchedule
	if err := json.Unmarshal(raw, &js); err != nil {
		return nil, fmt.Errorf("schedule: decode failed: %w", err)
	}
	return fromJSON(js)
}

func fromJSON(js jsonSchedule) (*Schedule, error) {
	if js.Timezone == "" {
		js.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(js.Timezone); err != nil {
		return nil, fmt.Errorf("schedule: unknown timezone %q: %w", js.Timezone, err)
	}
	s := &Schedule{
		Timezone: js.Timezone,
		Windows:  make(map[time.Weekday][]Window),
	}
	for key, intervals := range js.Windows {
		day, ok := dayKeys[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			return nil, fmt.Errorf("schedule: unknown day key %q", key)
		}
		for _, iv := range intervals {
			if len(iv) != 2 {
				return nil, fmt.Errorf("schedule: window for %s must be [start,end]", key)
			}
			start, err := ParseTime(iv[0])
			if err != nil {
				return nil, err
			}
			end, err := ParseTime(iv[1])
			if err != nil {
				return nil, err
			}
			if start >= end {
				return nil, fmt.Errorf("schedule: window %s-%s for %s: start must be before end", iv[0], iv[1], key)
			}
			s.Windows[day] = append(s.Windows[day], Window{Start: start, End: end})
		}
	}
	for day := range s.Windows {
		ws := s.Windows[day]
		sort.Slice(ws, func(i, j int) bool { return ws[i].Start < ws[j].Start })
	}
	return s, nil
}

// MarshalJSON encodes the schedule back into the persisted shape.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	js := jsonSchedule{
		Timezone: s.Timezone,
		Windows:  make(map[string][][]string),
	}
	for day, ws := range s.Windows {
		for _, w := range ws {
			js.Windows[dayNames[day]] = append(js.Windows[dayNames[day]], []string{formatTime(w.Start), formatTime(w.End)})
		}
	}
	return json.Marshal(js)
}

// UnmarshalJSON decodes the persisted shape.
func (s *Schedule) UnmarshalJSON(raw []byte) error {
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// IsEmpty reports whether the schedule contains no windows at all.
func (s *Schedule) IsEmpty() bool {
	if s == nil {
		return true
	}
	for _, ws := range s.Windows {
		if len(ws) > 0 {
			return false
		}
	}
	return true
}

// location resolves the schedule's timezone. A lookup failure means the
// schedule is unavailable; callers treat the queue as closed.
func (s *Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule: timezone lookup failed: %w", err)
	}
	return loc, nil
}
