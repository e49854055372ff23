// Package timetable arranges timetable entries into the weekly and daily
// views of the portal.
package timetable

import (
	"sort"
	"time"

	"github.com/kingrea/campus/internal/portal"
)

// WeekdayLabels are the short Japanese weekday names, indexed by time.Weekday.
var WeekdayLabels = [7]string{"日", "月", "火", "水", "木", "金", "土"}

// Week is the Monday..Sunday range that contains a date.
type Week struct {
	Start time.Time
	End   time.Time
}

// WeekOf returns the week containing t.
func WeekOf(t time.Time) Week {
	day := dateOnly(t)
	offset := (int(day.Weekday()) + 6) % 7
	start := day.AddDate(0, 0, -offset)
	return Week{Start: start, End: start.AddDate(0, 0, 6)}
}

// DisplayEnd is the Friday of the week; weekends are not shown.
func (w Week) DisplayEnd() time.Time {
	return w.Start.AddDate(0, 0, 4)
}

// Next is the following week.
func (w Week) Next() Week { return WeekOf(w.Start.AddDate(0, 0, 7)) }

// Prev is the preceding week.
func (w Week) Prev() Week { return WeekOf(w.Start.AddDate(0, 0, -7)) }

// Days lists Monday through Friday.
func (w Week) Days() []time.Time {
	days := make([]time.Time, 0, 5)
	for d := w.Start; !d.After(w.DisplayEnd()); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Query is the timetable request for the displayed days.
func (w Week) Query(majorID int) portal.TimetableQuery {
	return portal.TimetableQuery{Start: w.Start, End: w.DisplayEnd(), MajorID: majorID}
}

// Label formats a date as "6/3(月)".
func Label(t time.Time) string {
	return t.Format("1/2") + "(" + WeekdayLabels[t.Weekday()] + ")"
}

// ByDay groups entries by date, each day ordered by period.
func ByDay(entries []portal.TimetableEntry) map[string][]portal.TimetableEntry {
	out := make(map[string][]portal.TimetableEntry)
	for _, e := range entries {
		out[e.Date] = append(out[e.Date], e)
	}
	for date := range out {
		sortByPeriod(out[date])
	}
	return out
}

// Today returns the classes held on now's date ordered by period.
func Today(entries []portal.TimetableEntry, now time.Time) []portal.TimetableEntry {
	key := now.Format(portal.DateLayout)
	var out []portal.TimetableEntry
	for _, e := range entries {
		if e.Date == key {
			out = append(out, e)
		}
	}
	sortByPeriod(out)
	return out
}

// MaxPeriod is the highest period among entries, at least minimum.
func MaxPeriod(entries []portal.TimetableEntry, minimum int) int {
	highest := minimum
	for _, e := range entries {
		if e.Period > highest {
			highest = e.Period
		}
	}
	return highest
}

func sortByPeriod(entries []portal.TimetableEntry) {
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Period < entries[j].Period })
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
